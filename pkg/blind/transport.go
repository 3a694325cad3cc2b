package blind

import (
	"context"
	"strings"
)

// DeviceHandle identifies the peripheral at the transport level.
// A handle is a value; a fresh advertisement produces a new handle that replaces the old one.
type DeviceHandle struct {
	Address string
	Name    string
	RSSI    *int // last seen signal strength, nil when unknown
}

// DisplayName returns the advertised name, falling back to the address.
func (h DeviceHandle) DisplayName() string {
	if h.Name == "" {
		return h.Address
	}
	return h.Name
}

// Characteristic is an opaque, addressable data endpoint inside a discovered service.
type Characteristic interface {
	UUID() string
}

// Service is one entry of a connected session's discovered catalogue.
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Session is a live transport connection to the peripheral.
type Session interface {
	// Services returns the discovered catalogue. With refresh set, the adapter
	// re-runs discovery against the device instead of returning its cached copy.
	Services(ctx context.Context, refresh bool) ([]Service, error)
	ReadCharacteristic(ctx context.Context, c Characteristic) ([]byte, error)
	WriteCharacteristic(ctx context.Context, c Characteristic, data []byte, withResponse bool) error
	StopNotify(ctx context.Context, c Characteristic) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
}

// Transport is the radio collaborator the session is built on.
type Transport interface {
	// Resolve finds a device handle for address by scanning.
	Resolve(ctx context.Context, address string) (DeviceHandle, error)
	// Connect establishes a session, retrying internally as the adapter sees fit.
	// onDisconnect is invoked asynchronously whenever the link drops.
	Connect(ctx context.Context, h DeviceHandle, onDisconnect func()) (Session, error)
}

// NormalizeUUID lowercases a UUID and strips dashes and a 0x prefix so that values
// coming from different layers compare equal.
func NormalizeUUID(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "0x")
	return strings.ReplaceAll(u, "-", "")
}

// NormalizeAddress canonicalizes a device address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
