package blind

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinds/internal/groutine"
)

// ConnectionState is the state of the link as seen by the ConnectionManager.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// teardownTimeout bounds disconnects that are not tied to a caller context
// (idle expiry, unsolicited drop).
const teardownTimeout = 10 * time.Second

type requestKind int

const (
	reqConnect requestKind = iota
	reqDisconnect
	reqIdle
	reqDropped
	reqClose
)

func (k requestKind) String() string {
	switch k {
	case reqConnect:
		return "connect"
	case reqDisconnect:
		return "disconnect"
	case reqIdle:
		return "idle"
	case reqDropped:
		return "dropped"
	case reqClose:
		return "close"
	default:
		return "unknown"
	}
}

type connRequest struct {
	kind  requestKind
	ctx   context.Context
	gen   uint64 // idle timer generation or connection id, depending on kind
	reply chan connReply
}

type connReply struct {
	session Session
	chars   CharacteristicSet
	err     error
}

// ConnectionManager owns the transport session, the resolved characteristics and the
// idle timer. All connect/disconnect transitions are messages handled one at a time
// by a single worker goroutine: the worker's mailbox is the connect-gate.
type ConnectionManager struct {
	transport Transport
	resolver  *CharacteristicResolver
	idle      *IdleDisconnectTimer
	handle    func() DeviceHandle
	logger    *logrus.Logger

	requests  chan connRequest
	done      chan struct{}
	closeOnce sync.Once

	state      atomic.Int32
	busy       atomic.Int32  // operations currently using the session
	expectedID atomic.Uint64 // connection whose next drop notification is expected

	// owned by the worker goroutine
	session Session
	chars   CharacteristicSet
	connID  uint64
}

func NewConnectionManager(transport Transport, resolver *CharacteristicResolver, idleTimeout time.Duration, handle func() DeviceHandle, logger *logrus.Logger) *ConnectionManager {
	if logger == nil {
		logger = logrus.New()
	}

	m := &ConnectionManager{
		transport: transport,
		resolver:  resolver,
		handle:    handle,
		logger:    logger,
		requests:  make(chan connRequest, 16),
		done:      make(chan struct{}),
	}
	m.idle = NewIdleDisconnectTimer(idleTimeout, m.onIdle)

	groutine.Go(context.Background(), "blind-conn-worker", m.run)
	return m
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// EnsureConnected returns the live session and its characteristics, connecting first
// if needed. Concurrent callers are queued behind a single in-flight attempt. Every
// successful call rearms the idle timer.
func (m *ConnectionManager) EnsureConnected(ctx context.Context) (Session, CharacteristicSet, error) {
	r, err := m.call(ctx, reqConnect)
	if err != nil {
		return nil, CharacteristicSet{}, err
	}
	return r.session, r.chars, r.err
}

// Disconnect tears the link down. It is safe to call when already disconnected.
func (m *ConnectionManager) Disconnect(ctx context.Context) error {
	r, err := m.call(ctx, reqDisconnect)
	if err != nil {
		return err
	}
	return r.err
}

// Close disconnects and stops the worker. Later calls fail with ErrStopped.
func (m *ConnectionManager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		var r connReply
		r, err = m.call(ctx, reqClose)
		if err == nil {
			err = r.err
		}
	})
	return err
}

func (m *ConnectionManager) call(ctx context.Context, kind requestKind) (connReply, error) {
	req := connRequest{kind: kind, ctx: ctx, reply: make(chan connReply, 1)}
	select {
	case m.requests <- req:
	case <-m.done:
		return connReply{}, ErrStopped
	case <-ctx.Done():
		return connReply{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r, nil
	case <-m.done:
		// the worker may have answered just before exiting
		select {
		case r := <-req.reply:
			return r, nil
		default:
			return connReply{}, ErrStopped
		}
	case <-ctx.Done():
		return connReply{}, ctx.Err()
	}
}

// post delivers a fire-and-forget request without blocking the caller's context.
func (m *ConnectionManager) post(name string, req connRequest) {
	groutine.Go(context.Background(), name, func(context.Context) {
		select {
		case m.requests <- req:
		case <-m.done:
		}
	})
}

func (m *ConnectionManager) onIdle(gen uint64) {
	m.post("blind-idle-disconnect", connRequest{kind: reqIdle, gen: gen})
}

func (m *ConnectionManager) onDisconnectNotification(id uint64) func() {
	return func() {
		if m.expectedID.Load() == id {
			m.logger.WithField("connection", id).Debug("Disconnected from device")
		} else {
			m.logger.WithFields(logrus.Fields{
				"connection": id,
				"address":    m.handle().Address,
			}).Warn("Device unexpectedly disconnected")
		}
		m.post("blind-disconnect-notify", connRequest{kind: reqDropped, gen: id})
	}
}

func (m *ConnectionManager) run(ctx context.Context) {
	defer close(m.done)

	for req := range m.requests {
		m.logger.WithField("request", req.kind.String()).Trace("Connection worker handling request")

		var r connReply
		switch req.kind {
		case reqConnect:
			r = m.handleConnect(req.ctx)
		case reqDisconnect:
			r.err = m.teardown(req.ctx, "requested")
		case reqIdle:
			m.handleIdle(req.gen)
		case reqDropped:
			m.handleDropped(req.gen)
		case reqClose:
			r.err = m.teardown(req.ctx, "closed")
			m.idle.Cancel()
			req.reply <- r
			return
		}

		if req.reply != nil {
			req.reply <- r
		}
	}
}

func (m *ConnectionManager) handleConnect(ctx context.Context) connReply {
	if err := ctx.Err(); err != nil {
		return connReply{err: err}
	}

	if m.session != nil {
		if m.session.IsConnected() {
			m.idle.Arm()
			return connReply{session: m.session, chars: m.chars}
		}
		// link dropped without a notification reaching us yet
		if err := m.teardown(ctx, "stale"); err != nil {
			m.logger.WithField("error", err).Debug("Releasing stale session failed")
		}
	}

	h := m.handle()
	log := m.logger.WithField("address", h.Address)

	m.state.Store(int32(Connecting))
	id := m.connID + 1
	log.WithField("connection", id).Debug("Connecting to device")

	session, err := m.transport.Connect(ctx, h, m.onDisconnectNotification(id))
	if err != nil {
		m.state.Store(int32(Disconnected))
		log.WithField("error", err).Debug("Connect failed")
		return connReply{err: err}
	}
	m.connID = id
	m.session = session

	chars, err := m.resolve(ctx, session)
	if err != nil {
		if tdErr := m.teardown(ctx, "discovery failed"); tdErr != nil {
			log.WithField("error", tdErr).Debug("Teardown after failed discovery failed")
		}
		return connReply{err: err}
	}
	m.chars = chars

	m.state.Store(int32(Connected))
	m.idle.Arm()
	log.WithFields(logrus.Fields{
		"connection": id,
		"resolved":   chars.Resolved(),
	}).Info("Connected to device")

	return connReply{session: m.session, chars: m.chars}
}

// resolve runs the resolver over the cached catalogue, then once more over a freshly
// fetched one. An unresolved set is not an error here: operations refuse to run on it.
func (m *ConnectionManager) resolve(ctx context.Context, session Session) (CharacteristicSet, error) {
	services, err := session.Services(ctx, false)
	if err != nil {
		return CharacteristicSet{}, fmt.Errorf("failed to read service catalogue: %w", err)
	}
	if chars, ok := m.resolver.Resolve(services); ok {
		return chars, nil
	}

	m.logger.Debug("Characteristics not resolved from cached catalogue, re-fetching services")
	services, err = session.Services(ctx, true)
	if err != nil {
		return CharacteristicSet{}, fmt.Errorf("failed to re-fetch service catalogue: %w", err)
	}
	if chars, ok := m.resolver.Resolve(services); ok {
		return chars, nil
	}

	m.logger.WithField("services", len(services)).Warn("Required characteristics not found on device")
	return CharacteristicSet{}, nil
}

func (m *ConnectionManager) handleIdle(gen uint64) {
	if !m.idle.Current(gen) {
		return
	}
	if m.busy.Load() > 0 {
		m.idle.Arm()
		return
	}
	m.logger.WithField("idle", m.idle.Delay()).Debug("Disconnecting after idle period")

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := m.teardown(ctx, "idle"); err != nil {
		m.logger.WithField("error", err).Debug("Idle disconnect failed")
	}
}

func (m *ConnectionManager) handleDropped(id uint64) {
	if m.session == nil || id != m.connID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := m.teardown(ctx, "dropped"); err != nil {
		m.logger.WithField("error", err).Debug("Releasing dropped session failed")
	}
}

// teardown releases the current session, if any. Runs on the worker only.
func (m *ConnectionManager) teardown(ctx context.Context, reason string) error {
	m.idle.Cancel()
	session, chars := m.session, m.chars
	m.session = nil
	m.chars = CharacteristicSet{}
	m.state.Store(int32(Disconnected))

	if session == nil {
		return nil
	}

	m.expectedID.Store(m.connID)
	log := m.logger.WithFields(logrus.Fields{
		"connection": m.connID,
		"reason":     reason,
	})
	log.Debug("Disconnecting from device")

	if chars.Read != nil {
		if err := session.StopNotify(ctx, chars.Read); err != nil {
			log.WithField("error", err).Trace("Stop notify failed")
		}
	}

	if err := session.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}
