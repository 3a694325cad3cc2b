// Package inspector connects to a device once and reports its GATT catalogue
// against the blind profile, for diagnosing characteristic-missing failures.
package inspector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blinds/pkg/blind"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// Role names what a characteristic is used for by the blind profile.
type Role string

const (
	RoleNone          Role = ""
	RolePositionRead  Role = "position-read"
	RolePositionWrite Role = "position-write"
	RoleName          Role = "name"
)

// CharacteristicReport is one discovered characteristic.
type CharacteristicReport struct {
	UUID string
	Role Role
}

// ServiceReport is one discovered service.
type ServiceReport struct {
	UUID            string
	BlindService    bool
	Characteristics []CharacteristicReport
}

// Report is the result of an inspection.
type Report struct {
	Device   blind.DeviceHandle
	Services []ServiceReport
	// Resolved is true when both position characteristics were found
	Resolved bool
}

// Options defines options for inspecting a device
type Options struct {
	Profile blind.Profile
	// Refresh forces a live re-discovery instead of the backend cache
	Refresh bool
	Timeout time.Duration
}

// Inspect resolves address, connects, reads the catalogue and disconnects.
// The connection is always released before returning.
func Inspect(ctx context.Context, transport blind.Transport, address string, opts *Options, logger *logrus.Logger, progressCallback ProgressCallback) (*Report, error) {
	if opts == nil {
		opts = &Options{Profile: blind.DefaultProfile(), Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	progressCallback("Scanning")
	h, err := transport.Resolve(ctx, address)
	if err != nil {
		progressCallback("Failed")
		return nil, err
	}

	progressCallback("Connecting")
	session, err := transport.Connect(ctx, h, nil)
	if err != nil {
		progressCallback("Failed")
		return nil, err
	}
	defer func() {
		if err := session.Disconnect(context.Background()); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	progressCallback("Discovering")
	services, err := session.Services(ctx, opts.Refresh)
	if err != nil {
		progressCallback("Failed")
		return nil, err
	}

	progressCallback("Processing results")
	return buildReport(h, services, opts.Profile), nil
}

func buildReport(h blind.DeviceHandle, services []blind.Service, profile blind.Profile) *Report {
	roles := map[string]Role{
		blind.NormalizeUUID(profile.Read):  RolePositionRead,
		blind.NormalizeUUID(profile.Write): RolePositionWrite,
	}
	if profile.Name != "" {
		roles[blind.NormalizeUUID(profile.Name)] = RoleName
	}
	blindService := blind.NormalizeUUID(profile.Service)

	report := &Report{Device: h}
	for _, svc := range services {
		sr := ServiceReport{UUID: svc.UUID(), BlindService: svc.UUID() == blindService}
		for _, c := range svc.Characteristics() {
			cr := CharacteristicReport{UUID: c.UUID()}
			if sr.BlindService {
				cr.Role = roles[c.UUID()]
			}
			sr.Characteristics = append(sr.Characteristics, cr)
		}
		report.Services = append(report.Services, sr)
	}

	_, report.Resolved = blind.NewCharacteristicResolver(profile).Resolve(services)
	return report
}
