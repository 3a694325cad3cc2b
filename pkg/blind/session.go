package blind

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Cover positions.
const (
	PositionClosed uint16 = 0
	PositionOpen   uint16 = 100
)

// Options configures a DeviceSession.
type Options struct {
	Profile           Profile
	IdleTimeout       time.Duration
	Attempts          int
	Backoff           time.Duration
	WriteWithResponse bool
	Logger            *logrus.Logger
}

// DefaultOptions returns the options used for the stock blind firmware.
func DefaultOptions() Options {
	return Options{
		Profile:           DefaultProfile(),
		IdleTimeout:       DefaultIdleTimeout,
		Attempts:          DefaultAttempts,
		Backoff:           DefaultBackoff,
		WriteWithResponse: true,
	}
}

// DeviceSession is the long-lived logical session with one blind. It hides connection
// churn, characteristic discovery and transient I/O failures behind GetPosition and
// SetPosition.
//
// Lock order: an operation takes the operation gate first and then talks to the
// connection worker (the connect-gate). The worker never waits on the operation gate.
type DeviceSession struct {
	handle    atomic.Pointer[DeviceHandle]
	conn      *ConnectionManager
	gate      *OperationGate
	retry     *RetryPolicy
	callbacks *CallbackRegistry
	logger    *logrus.Logger

	position     atomic.Uint32
	known        atomic.Bool
	seq          atomic.Uint64 // bumped under the gate on every position change
	withResponse bool
	stopped      atomic.Bool

	notifyMu   sync.Mutex
	pending    []positionEvent
	delivered  uint64
	delivering bool
}

type positionEvent struct {
	seq      uint64
	position uint16
}

// NewDeviceSession creates a session for the device identified by h. No connection is
// made until the first operation.
func NewDeviceSession(transport Transport, h DeviceHandle, opts Options) *DeviceSession {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}

	s := &DeviceSession{
		gate:         NewOperationGate(logger),
		retry:        NewRetryPolicy(opts.Attempts, opts.Backoff, logger),
		callbacks:    NewCallbackRegistry(),
		logger:       logger,
		withResponse: opts.WriteWithResponse,
	}
	s.handle.Store(&h)
	s.conn = NewConnectionManager(transport, NewCharacteristicResolver(opts.Profile), opts.IdleTimeout, s.Handle, logger)
	return s
}

// Handle returns the current device handle.
func (s *DeviceSession) Handle() DeviceHandle {
	return *s.handle.Load()
}

// UpdateHandle replaces the device handle, typically after a fresh advertisement.
// The address is kept; a handle for a different device is ignored.
func (s *DeviceSession) UpdateHandle(h DeviceHandle) {
	cur := s.Handle()
	if h.Address != "" && NormalizeAddress(h.Address) != NormalizeAddress(cur.Address) {
		s.logger.WithFields(logrus.Fields{
			"address": cur.Address,
			"other":   h.Address,
		}).Debug("Ignoring handle for a different device")
		return
	}
	h.Address = cur.Address
	if h.Name == "" {
		h.Name = cur.Name
	}
	s.handle.Store(&h)
}

// Position returns the last known position and whether one has been observed yet.
func (s *DeviceSession) Position() (uint16, bool) {
	return uint16(s.position.Load()), s.known.Load()
}

// IsClosed reports whether the last known position is fully closed.
func (s *DeviceSession) IsClosed() bool {
	pos, ok := s.Position()
	return ok && pos == PositionClosed
}

// State returns the state of the underlying link.
func (s *DeviceSession) State() ConnectionState {
	return s.conn.State()
}

// RegisterCallback adds an observer called after every successful read or write.
func (s *DeviceSession) RegisterCallback(fn PositionCallback) (unregister func()) {
	return s.callbacks.Register(fn)
}

// GetPosition reads the position from the device.
func (s *DeviceSession) GetPosition(ctx context.Context) (uint16, error) {
	var (
		pos uint16
		seq uint64
	)
	err := s.run(ctx, "read_position", func(ctx context.Context, session Session, chars CharacteristicSet) error {
		data, err := session.ReadCharacteristic(ctx, chars.Read)
		if err != nil {
			return err
		}
		v, err := DecodePosition(data)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": s.Handle().Address,
				"error":   err,
			}).Warn("Discarding undecodable position payload")
			return err
		}
		pos = v
		seq = s.setPosition(v)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.deliver(seq, pos)
	return pos, nil
}

// SetPosition writes a target position. On success the local position is set to v
// without reading it back.
func (s *DeviceSession) SetPosition(ctx context.Context, v uint16) error {
	var seq uint64
	err := s.run(ctx, "write_position", func(ctx context.Context, session Session, chars CharacteristicSet) error {
		if err := session.WriteCharacteristic(ctx, chars.Write, EncodePosition(v), s.withResponse); err != nil {
			return err
		}
		seq = s.setPosition(v)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"address":  s.Handle().Address,
		"position": v,
	}).Debug("Position written")
	s.deliver(seq, v)
	return nil
}

// Open moves the blind fully open.
func (s *DeviceSession) Open(ctx context.Context) error {
	return s.SetPosition(ctx, PositionOpen)
}

// Close moves the blind fully closed.
func (s *DeviceSession) Close(ctx context.Context) error {
	return s.SetPosition(ctx, PositionClosed)
}

// Name reads the device name characteristic.
func (s *DeviceSession) Name(ctx context.Context) (string, error) {
	var name string
	err := s.run(ctx, "read_name", func(ctx context.Context, session Session, chars CharacteristicSet) error {
		if chars.Name == nil {
			return NewError(KindCharacteristicMissing, "read_name", errors.New("name characteristic not exposed"))
		}
		data, err := session.ReadCharacteristic(ctx, chars.Name)
		if err != nil {
			return err
		}
		name = string(data)
		return nil
	})
	return name, err
}

// Stop disconnects and releases the session. Operations after Stop return ErrStopped.
func (s *DeviceSession) Stop(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.WithField("address", s.Handle().Address).Debug("Stopping device session")
	return s.conn.Close(ctx)
}

// setPosition must be called under the operation gate. It returns the sequence
// number that orders the matching notification.
func (s *DeviceSession) setPosition(v uint16) uint64 {
	s.position.Store(uint32(v))
	s.known.Store(true)
	return s.seq.Add(1)
}

// deliver hands a position change to the observers in gate order. One caller at a
// time drains the queue; an event older than the last one delivered is dropped.
// An event queued while another caller is draining is delivered by that caller.
func (s *DeviceSession) deliver(seq uint64, position uint16) {
	s.notifyMu.Lock()
	s.pending = append(s.pending, positionEvent{seq: seq, position: position})
	if s.delivering {
		s.notifyMu.Unlock()
		return
	}
	s.delivering = true

	for len(s.pending) > 0 {
		slices.SortFunc(s.pending, func(a, b positionEvent) int {
			return cmp.Compare(a.seq, b.seq)
		})
		ev := s.pending[0]
		s.pending = s.pending[1:]
		if ev.seq <= s.delivered {
			s.logger.WithField("position", ev.position).Trace("Dropping stale position notification")
			continue
		}
		s.delivered = ev.seq

		s.notifyMu.Unlock()
		s.callbacks.Notify(ev.position)
		s.notifyMu.Lock()
	}

	s.delivering = false
	s.notifyMu.Unlock()
}

type deviceOp func(ctx context.Context, session Session, chars CharacteristicSet) error

// run is the operation pipeline: gate, then per attempt ensure-connected and the
// device call, under the retry policy.
//
// EnsureConnected and the forced Disconnect wait on the connection worker while the
// operation gate is held. This cannot deadlock: the worker only handles its mailbox
// and never acquires the operation gate.
func (s *DeviceSession) run(ctx context.Context, op string, fn deviceOp) error {
	if s.stopped.Load() {
		return ErrStopped
	}

	s.conn.busy.Add(1)
	defer s.conn.busy.Add(-1)

	return s.gate.Do(ctx, op, func(ctx context.Context) error {
		return s.retry.Do(ctx, s.conn.Disconnect, func(ctx context.Context) error {
			session, chars, err := s.conn.EnsureConnected(ctx)
			if err != nil {
				return Permanent(err)
			}
			if !chars.Resolved() {
				return NewError(KindCharacteristicMissing, op,
					fmt.Errorf("service %s does not expose the position characteristics", s.conn.resolver.service))
			}
			return fn(ctx, session, chars)
		})
	})
}
