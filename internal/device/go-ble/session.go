package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/internal/groutine"
	"github.com/srg/blinds/pkg/blind"
)

// BLESession is a live GATT client connection implementing blind.Session.
type BLESession struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	mu        sync.Mutex
	catalogue []blind.Service

	connected atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once

	disconnectMu sync.Mutex
	cancelled    bool // set once CancelConnection succeeded
}

// newSession discovers the profile (using the backend cache when it has one)
// and starts the disconnect monitor.
func newSession(ctx context.Context, client ble.Client, address string, onDisconnect func(), logger *logrus.Logger) (*BLESession, error) {
	s := &BLESession{
		client:  client,
		address: address,
		logger:  logger,
		closed:  make(chan struct{}),
	}

	profile, err := await(ctx, "ble-discover-profile", func() (*ble.Profile, error) {
		return client.DiscoverProfile(false)
	})
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		return nil, NormalizeError("discover", err)
	}
	s.catalogue = newCatalogue(profile)
	s.connected.Store(true)

	logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(s.catalogue),
	}).Debug("Profile discovered successfully")

	s.monitor(onDisconnect)
	return s, nil
}

// monitor watches the backend disconnect channel, when the client exposes one.
func (s *BLESession) monitor(onDisconnect func()) {
	watcher, ok := s.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		s.logger.Debug("Client does not expose a Disconnected() channel, unsolicited drops surface as I/O errors")
		return
	}

	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		select {
		case <-watcher.Disconnected():
			s.connected.Store(false)
			if onDisconnect != nil {
				onDisconnect()
			}
		case <-s.closed:
		}
	})
}

// Services returns the discovered catalogue; refresh forces a live re-discovery.
func (s *BLESession) Services(ctx context.Context, refresh bool) ([]blind.Service, error) {
	if !refresh {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.catalogue, nil
	}

	profile, err := await(ctx, "ble-discover-profile", func() (*ble.Profile, error) {
		return s.client.DiscoverProfile(true)
	})
	if err != nil {
		return nil, NormalizeError("discover", err)
	}

	catalogue := newCatalogue(profile)
	s.mu.Lock()
	s.catalogue = catalogue
	s.mu.Unlock()
	return catalogue, nil
}

func (s *BLESession) ReadCharacteristic(ctx context.Context, c blind.Characteristic) ([]byte, error) {
	bc, err := bleCharacteristic("read", c)
	if err != nil {
		return nil, err
	}

	data, err := await(ctx, "ble-read", func() ([]byte, error) {
		return s.client.ReadCharacteristic(bc.BLEChar)
	})
	if err != nil {
		return nil, NormalizeError("read", err)
	}
	return data, nil
}

func (s *BLESession) WriteCharacteristic(ctx context.Context, c blind.Characteristic, data []byte, withResponse bool) error {
	bc, err := bleCharacteristic("write", c)
	if err != nil {
		return err
	}

	_, err = await(ctx, "ble-write", func() (struct{}, error) {
		return struct{}{}, s.client.WriteCharacteristic(bc.BLEChar, data, !withResponse)
	})
	return NormalizeError("write", err)
}

// StopNotify clears notify and indicate subscriptions on c. Characteristics
// that support neither are skipped.
func (s *BLESession) StopNotify(ctx context.Context, c blind.Characteristic) error {
	bc, err := bleCharacteristic("unsubscribe", c)
	if err != nil {
		return err
	}
	if !bc.CanNotify() {
		return nil
	}

	_, err = await(ctx, "ble-unsubscribe", func() (struct{}, error) {
		err1 := s.client.Unsubscribe(bc.BLEChar, false) // notify
		err2 := s.client.Unsubscribe(bc.BLEChar, true)  // indicate
		return struct{}{}, errors.Join(err1, err2)
	})
	return NormalizeError("unsubscribe", err)
}

// Disconnect cancels the connection. Once a cancel has succeeded later calls are
// no-ops; a failed cancel is attempted again on the next call.
func (s *BLESession) Disconnect(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.connected.Store(false)

	s.disconnectMu.Lock()
	defer s.disconnectMu.Unlock()
	if s.cancelled {
		return nil
	}

	_, err := await(ctx, "ble-cancel-connection", func() (struct{}, error) {
		return struct{}{}, s.client.CancelConnection()
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"address": s.address,
			"error":   err,
		}).Warn("BLE device disconnected with errors")
		return NormalizeError("disconnect", err)
	}

	s.cancelled = true
	s.logger.WithField("address", s.address).Info("BLE device disconnected")
	return nil
}

func (s *BLESession) IsConnected() bool {
	return s.connected.Load()
}

func bleCharacteristic(op string, c blind.Characteristic) (*BLECharacteristic, error) {
	bc, ok := c.(*BLECharacteristic)
	if !ok || bc == nil || bc.BLEChar == nil {
		return nil, blind.NewError(blind.KindCharacteristicMissing, op, fmt.Errorf("characteristic %T is not a live go-ble handle", c))
	}
	return bc, nil
}
