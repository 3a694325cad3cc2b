// Package coordinator keeps a blind session alive for a long-running host:
// it resolves the device at startup, polls its position on a schedule,
// tracks availability and forwards advertisement updates to the session.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blinds/internal/groutine"
	"github.com/srg/blinds/pkg/blind"
)

const (
	DefaultUpdateInterval = 15 * time.Second
	DefaultStartupTimeout = 30 * time.Second
)

// Session is the part of blind.DeviceSession the coordinator drives.
type Session interface {
	GetPosition(ctx context.Context) (uint16, error)
	Handle() blind.DeviceHandle
	UpdateHandle(h blind.DeviceHandle)
	Stop(ctx context.Context) error
}

// Resolver finds a device handle by address.
type Resolver interface {
	Resolve(ctx context.Context, address string) (blind.DeviceHandle, error)
}

// Watcher reports advertisements for one address until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, address string, handler func(blind.DeviceHandle)) error
}

// SessionFactory builds a session for a resolved device.
type SessionFactory func(h blind.DeviceHandle) Session

// Update is the outcome of one refresh.
type Update struct {
	Position uint16
	Err      error
	At       time.Time
}

// Listener receives every refresh outcome.
type Listener func(Update)

// Options configures a Coordinator.
type Options struct {
	Address        string
	UpdateInterval time.Duration
	StartupTimeout time.Duration
	Logger         *logrus.Logger
}

// Coordinator owns one DeviceSession and refreshes it periodically.
type Coordinator struct {
	opts       Options
	resolver   Resolver
	watcher    Watcher
	newSession SessionFactory
	logger     *logrus.Logger

	mu        sync.RWMutex
	session   Session
	last      Update
	available bool
	started   bool
	stopped   bool

	listenersMu sync.Mutex
	listeners   *orderedmap.OrderedMap[uint64, Listener]
	nextID      uint64

	// guarded by mu
	cron        *cron.Cron
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New creates a Coordinator. watcher may be nil when no passive scanning is available.
func New(resolver Resolver, watcher Watcher, factory SessionFactory, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	opts.Address = blind.NormalizeAddress(opts.Address)

	return &Coordinator{
		opts:       opts,
		resolver:   resolver,
		watcher:    watcher,
		newSession: factory,
		logger:     opts.Logger,
		listeners:  orderedmap.New[uint64, Listener](),
	}
}

// Start resolves the device, performs the first refresh inside the startup
// window, then starts advertisement watching and periodic polling.
// It returns *NotReadyError when the device cannot be reached.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return blind.ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	logger := c.logger.WithField("address", c.opts.Address)

	startCtx, cancel := context.WithTimeout(ctx, c.opts.StartupTimeout)
	defer cancel()

	h, err := c.resolver.Resolve(startCtx, c.opts.Address)
	if err != nil {
		logger.WithField("error", err).Warn("Could not find blind")
		return &NotReadyError{
			Address: c.opts.Address,
			Reason:  fmt.Sprintf("could not find blind with address %s", c.opts.Address),
			Err:     err,
		}
	}

	session := c.newSession(h)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.stopSession(session, logger)
		return blind.ErrStopped
	}
	c.session = session
	c.mu.Unlock()

	if _, err := c.Refresh(startCtx); err != nil {
		if errors.Is(err, blind.ErrStopped) {
			return err
		}
		logger.WithField("error", err).Warn("First refresh failed")
		c.stopSession(session, logger)
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		return &NotReadyError{
			Address: c.opts.Address,
			Reason:  fmt.Sprintf("unable to communicate with the device; try moving the Bluetooth adapter closer to %s", h.DisplayName()),
			Err:     err,
		}
	}

	// Stop may have run since the refresh; it has already stopped the session.
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return blind.ErrStopped
	}
	c.startWatch(session)
	c.startPolling()
	c.started = true
	c.mu.Unlock()

	logger.WithField("interval", c.opts.UpdateInterval).Info("Blind coordinator started")
	return nil
}

func (c *Coordinator) stopSession(session Session, logger *logrus.Entry) {
	if err := session.Stop(context.Background()); err != nil {
		logger.WithField("error", err).Debug("Failed to stop session")
	}
}

// startWatch must be called with c.mu held.
func (c *Coordinator) startWatch(session Session) {
	if c.watcher == nil {
		return
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.watchCancel = cancel
	c.watchDone = done

	groutine.Go(watchCtx, "blind-advertisement-watch", func(ctx context.Context) {
		defer close(done)
		err := c.watcher.Watch(ctx, c.opts.Address, func(h blind.DeviceHandle) {
			c.logger.WithFields(logrus.Fields{
				"address": h.Address,
				"name":    h.Name,
			}).Trace("Advertisement received")
			session.UpdateHandle(h)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithField("error", err).Warn("Advertisement watch stopped")
		}
	})
}

// startPolling must be called with c.mu held.
func (c *Coordinator) startPolling() {
	c.cron = cron.New(
		cron.WithLogger(cronLogger{logger: c.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: c.logger})),
	)
	c.cron.Schedule(interval{delay: c.opts.UpdateInterval}, cron.FuncJob(c.poll))
	c.cron.Start()
}

// poll is the scheduled refresh. Each run is bounded by the update interval.
func (c *Coordinator) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.UpdateInterval)
	defer cancel()

	if _, err := c.Refresh(ctx); err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.opts.Address,
			"error":   err,
		}).Debug("Scheduled refresh failed")
	}
}

// Refresh reads the current position now. Failures are wrapped in *UpdateFailedError
// and mark the blind unavailable until the next successful refresh.
func (c *Coordinator) Refresh(ctx context.Context) (uint16, error) {
	c.mu.RLock()
	session := c.session
	stopped := c.stopped
	c.mu.RUnlock()

	if stopped || session == nil {
		return 0, blind.ErrStopped
	}

	pos, err := session.GetPosition(ctx)
	update := Update{Position: pos, At: time.Now()}
	if err != nil {
		update.Err = &UpdateFailedError{Err: err}
	}

	c.mu.Lock()
	if err == nil {
		c.last = update
	} else {
		c.last.Err = update.Err
		c.last.At = update.At
	}
	c.available = err == nil
	c.mu.Unlock()

	c.notify(update)
	return pos, update.Err
}

// Available reports whether the last refresh succeeded.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Last returns the most recent refresh outcome. On failure Position keeps the
// last successfully read value.
func (c *Coordinator) Last() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Session returns the managed session, or nil before Start succeeds.
func (c *Coordinator) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// AddListener registers fn for every refresh outcome and returns its remover.
func (c *Coordinator) AddListener(fn Listener) func() {
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners.Set(id, fn)
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		c.listeners.Delete(id)
		c.listenersMu.Unlock()
	}
}

func (c *Coordinator) notify(u Update) {
	c.listenersMu.Lock()
	snapshot := make([]Listener, 0, c.listeners.Len())
	for pair := c.listeners.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	c.listenersMu.Unlock()

	for _, fn := range snapshot {
		fn(u)
	}
}

// Stop halts polling and watching, then stops the session. Safe to call more than once.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.available = false
	session := c.session
	scheduler := c.cron
	watchCancel, watchDone := c.watchCancel, c.watchDone
	c.mu.Unlock()

	if scheduler != nil {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if watchCancel != nil {
		watchCancel()
		select {
		case <-watchDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if session == nil {
		return nil
	}
	c.logger.WithField("address", c.opts.Address).Info("Stopping blind coordinator")
	return session.Stop(ctx)
}
