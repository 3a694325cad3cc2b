package goble

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/pkg/blind"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeAdv implements the parts of ble.Advertisement the adapter reads.
type fakeAdv struct {
	ble.Advertisement
	addr     string
	name     string
	rssi     int
	services []ble.UUID
}

func (a *fakeAdv) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a *fakeAdv) LocalName() string    { return a.name }
func (a *fakeAdv) RSSI() int            { return a.rssi }
func (a *fakeAdv) Services() []ble.UUID { return a.services }

// fakeClient implements the parts of ble.Client the session uses.
type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	profile      *ble.Profile
	discoverErr  error
	readData     []byte
	readErr      error
	writeErr     error
	lastWrite    []byte
	lastNoRsp    bool
	unsubscribes atomic.Int32
	cancelErrs   []error // consumed one per CancelConnection
	cancels      atomic.Int32
	forced       atomic.Int32
	disconnected chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		profile:      blindProfile(),
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	if force {
		c.forced.Add(1)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile, c.discoverErr
}

func (c *fakeClient) ReadCharacteristic(*ble.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readData, c.readErr
}

func (c *fakeClient) WriteCharacteristic(_ *ble.Characteristic, v []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastWrite = append([]byte(nil), v...)
	c.lastNoRsp = noRsp
	return c.writeErr
}

func (c *fakeClient) Unsubscribe(*ble.Characteristic, bool) error {
	c.unsubscribes.Add(1)
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.cancels.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cancelErrs) == 0 {
		return nil
	}
	err := c.cancelErrs[0]
	c.cancelErrs = c.cancelErrs[1:]
	return err
}

func (c *fakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

// fakeDevice implements the parts of ble.Device the transport uses.
type fakeDevice struct {
	ble.Device

	mu       sync.Mutex
	adverts  []ble.Advertisement
	scanErr  error
	dialErrs []error
	client   *fakeClient
	dials    atomic.Int32
	scans    atomic.Int32
	stops    atomic.Int32
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	d.scans.Add(1)
	d.mu.Lock()
	adverts := append([]ble.Advertisement(nil), d.adverts...)
	scanErr := d.scanErr
	d.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range adverts {
		h(adv)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Dial(ctx context.Context, _ ble.Addr) (ble.Client, error) {
	d.dials.Add(1)
	d.mu.Lock()
	var err error
	if len(d.dialErrs) > 0 {
		err = d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
	}
	d.mu.Unlock()

	if errors.Is(err, context.DeadlineExceeded) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.client, nil
}

func (d *fakeDevice) Stop() error {
	d.stops.Add(1)
	return nil
}

// blindProfile is a GATT profile exposing the blind service.
func blindProfile() *ble.Profile {
	gap := ble.NewService(ble.UUID16(0x1800))
	gap.NewCharacteristic(ble.UUID16(0x2a00)).Property = ble.CharRead

	svc := ble.NewService(ble.MustParse(blind.DefaultServiceUUID))
	svc.NewCharacteristic(ble.MustParse(blind.DefaultPositionReadUUID)).Property = ble.CharRead | ble.CharNotify
	svc.NewCharacteristic(ble.MustParse(blind.DefaultPositionWriteUUID)).Property = ble.CharWrite

	return &ble.Profile{Services: []*ble.Service{svc, gap}}
}
