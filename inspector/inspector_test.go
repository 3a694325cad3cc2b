package inspector

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/pkg/blind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type char string

func (c char) UUID() string { return string(c) }

type service struct {
	uuid  string
	chars []blind.Characteristic
}

func (s service) UUID() string                            { return s.uuid }
func (s service) Characteristics() []blind.Characteristic { return s.chars }

type session struct {
	blind.Session
	services     []blind.Service
	refreshed    bool
	disconnected bool
}

func (s *session) Services(_ context.Context, refresh bool) ([]blind.Service, error) {
	s.refreshed = refresh
	return s.services, nil
}

func (s *session) Disconnect(context.Context) error {
	s.disconnected = true
	return nil
}

type transport struct {
	session    *session
	resolveErr error
	connectErr error
}

func (t *transport) Resolve(_ context.Context, address string) (blind.DeviceHandle, error) {
	return blind.DeviceHandle{Address: address, Name: "Study"}, t.resolveErr
}

func (t *transport) Connect(context.Context, blind.DeviceHandle, func()) (blind.Session, error) {
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.session, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func blindServices(withWrite bool) []blind.Service {
	p := blind.DefaultProfile()
	chars := []blind.Characteristic{char(blind.NormalizeUUID(p.Read)), char(blind.NormalizeUUID(p.Name))}
	if withWrite {
		chars = append(chars, char(blind.NormalizeUUID(p.Write)))
	}
	return []blind.Service{
		service{uuid: "1800", chars: []blind.Characteristic{char("2a00")}},
		service{uuid: blind.NormalizeUUID(p.Service), chars: chars},
	}
}

func TestInspect(t *testing.T) {
	t.Run("reports roles and resolution", func(t *testing.T) {
		sess := &session{services: blindServices(true)}
		tr := &transport{session: sess}
		var phases []string

		report, err := Inspect(context.Background(), tr, "AA:BB", nil, quietLogger(), func(p string) { phases = append(phases, p) })

		require.NoError(t, err)
		assert.True(t, report.Resolved)
		assert.Equal(t, "Study", report.Device.Name)
		require.Len(t, report.Services, 2)
		assert.False(t, report.Services[0].BlindService)
		assert.Equal(t, RoleNone, report.Services[0].Characteristics[0].Role)
		assert.True(t, report.Services[1].BlindService)
		assert.Equal(t, RolePositionRead, report.Services[1].Characteristics[0].Role)
		assert.Equal(t, RoleName, report.Services[1].Characteristics[1].Role)
		assert.Equal(t, RolePositionWrite, report.Services[1].Characteristics[2].Role)
		assert.True(t, sess.disconnected, "connection MUST be released")
		assert.Equal(t, []string{"Scanning", "Connecting", "Discovering", "Processing results"}, phases)
	})

	t.Run("missing write characteristic is unresolved", func(t *testing.T) {
		sess := &session{services: blindServices(false)}

		report, err := Inspect(context.Background(), &transport{session: sess}, "AA:BB",
			&Options{Profile: blind.DefaultProfile(), Refresh: true}, quietLogger(), nil)

		require.NoError(t, err)
		assert.False(t, report.Resolved)
		assert.True(t, sess.refreshed, "Refresh MUST force re-discovery")
	})

	t.Run("connect failure", func(t *testing.T) {
		failure := blind.NewError(blind.KindNotFound, "connect", errors.New("timeout"))
		var phases []string

		_, err := Inspect(context.Background(), &transport{connectErr: failure}, "AA:BB", nil, quietLogger(),
			func(p string) { phases = append(phases, p) })

		assert.ErrorIs(t, err, blind.ErrDeviceNotFound)
		assert.Equal(t, "Failed", phases[len(phases)-1])
	})
}
