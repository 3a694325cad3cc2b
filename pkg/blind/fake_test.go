package blind

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// quietLogger returns a logger that discards output.
func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.TraceLevel)
	return logger
}

type fakeChar struct{ uuid string }

func (c *fakeChar) UUID() string { return c.uuid }

type fakeService struct {
	uuid  string
	chars []Characteristic
}

func (s *fakeService) UUID() string                      { return s.uuid }
func (s *fakeService) Characteristics() []Characteristic { return s.chars }

func blindCatalogue() []Service {
	return []Service{
		&fakeService{uuid: "1800", chars: []Characteristic{&fakeChar{uuid: "2a00"}}},
		&fakeService{uuid: DefaultServiceUUID, chars: []Characteristic{
			&fakeChar{uuid: DefaultPositionReadUUID},
			&fakeChar{uuid: DefaultPositionWriteUUID},
			&fakeChar{uuid: DefaultNameUUID},
		}},
	}
}

// fakeTransport simulates the blind: one position register reachable through
// whichever fakeSession is currently open.
type fakeTransport struct {
	mu sync.Mutex

	catalogue        []Service
	refreshCatalogue []Service // returned when refresh is requested; nil means catalogue
	connectErrs      []error
	readErrs         []error
	writeErrs        []error
	readPayload      []byte // overrides the register on read when non-nil
	connectDelay     time.Duration
	ioDelay          time.Duration
	name             string

	register    uint16
	lastWrite   []byte
	lastRsp     bool
	sessions    []*fakeSession
	onDrop      []func()
	connects    atomic.Int32
	disconnects atomic.Int32
	stopNotify  atomic.Int32
	reads       atomic.Int32
	writes      atomic.Int32
	fetches     atomic.Int32
	refetches   atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{catalogue: blindCatalogue(), name: "Living Room"}
}

func (t *fakeTransport) Resolve(_ context.Context, address string) (DeviceHandle, error) {
	return DeviceHandle{Address: address}, nil
}

func (t *fakeTransport) Connect(ctx context.Context, h DeviceHandle, onDisconnect func()) (Session, error) {
	t.connects.Add(1)
	if t.connectDelay > 0 {
		select {
		case <-time.After(t.connectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.connectErrs) > 0 {
		err := t.connectErrs[0]
		t.connectErrs = t.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSession{t: t}
	s.connected.Store(true)
	t.sessions = append(t.sessions, s)
	t.onDrop = append(t.onDrop, onDisconnect)
	return s, nil
}

// drop simulates the peripheral going away on the latest session.
func (t *fakeTransport) drop() {
	t.mu.Lock()
	s := t.sessions[len(t.sessions)-1]
	cb := t.onDrop[len(t.onDrop)-1]
	t.mu.Unlock()
	s.connected.Store(false)
	cb()
}

func (t *fakeTransport) setRegister(v uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.register = v
}

func (t *fakeTransport) popErr(queue *[]error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (t *fakeTransport) enterIO() func() {
	n := t.inflight.Add(1)
	for {
		m := t.maxInflight.Load()
		if n <= m || t.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if t.ioDelay > 0 {
		time.Sleep(t.ioDelay)
	}
	return func() { t.inflight.Add(-1) }
}

type fakeSession struct {
	t         *fakeTransport
	connected atomic.Bool
}

func (s *fakeSession) Services(_ context.Context, refresh bool) ([]Service, error) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if refresh {
		s.t.refetches.Add(1)
		if s.t.refreshCatalogue != nil {
			return s.t.refreshCatalogue, nil
		}
		return s.t.catalogue, nil
	}
	s.t.fetches.Add(1)
	return s.t.catalogue, nil
}

func (s *fakeSession) ReadCharacteristic(_ context.Context, c Characteristic) ([]byte, error) {
	defer s.t.enterIO()()
	s.t.reads.Add(1)
	if !s.connected.Load() {
		return nil, NewError(KindTransport, "read", io.ErrClosedPipe)
	}
	if err := s.t.popErr(&s.t.readErrs); err != nil {
		return nil, err
	}

	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if NormalizeUUID(c.UUID()) == NormalizeUUID(DefaultNameUUID) {
		return []byte(s.t.name), nil
	}
	if s.t.readPayload != nil {
		return s.t.readPayload, nil
	}
	return EncodePosition(s.t.register), nil
}

func (s *fakeSession) WriteCharacteristic(_ context.Context, _ Characteristic, data []byte, withResponse bool) error {
	defer s.t.enterIO()()
	s.t.writes.Add(1)
	if !s.connected.Load() {
		return NewError(KindTransport, "write", io.ErrClosedPipe)
	}
	if err := s.t.popErr(&s.t.writeErrs); err != nil {
		return err
	}

	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.lastWrite = append([]byte(nil), data...)
	s.t.lastRsp = withResponse
	if v, err := DecodePosition(data); err == nil {
		s.t.register = v
	}
	return nil
}

func (s *fakeSession) StopNotify(context.Context, Characteristic) error {
	s.t.stopNotify.Add(1)
	return nil
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.t.disconnects.Add(1)
	s.connected.Store(false)
	return nil
}

func (s *fakeSession) IsConnected() bool {
	return s.connected.Load()
}
