// Package connection owns the single live warehouse session of an engine.
//
// Callers never hold a warehouse client directly. They Acquire a Lease for
// the session they were given; the lease context is cancelled the moment the
// session is replaced or disconnected, and the old pool is closed only after
// every lease is released.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/metrics"
	"github.com/ruslano69/whbridge/pkg/retry"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

// State of a session.
type State int32

const (
	StateConnected State = iota + 1
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session is a live authenticated connection.
type Session struct {
	ID          string
	Profile     Profile // redacted
	ConnectedAt time.Time

	client warehouse.Client
	ctx    context.Context
	cancel context.CancelFunc
	leases sync.WaitGroup
	state  atomic.Int32
}

func (s *Session) State() State { return State(s.state.Load()) }

// Context is cancelled when the session is replaced or disconnected.
func (s *Session) Context() context.Context { return s.ctx }

// Dialect of the session's warehouse.
func (s *Session) Dialect() warehouse.Dialect { return s.client.Dialect() }

// Lease pins a session for the duration of one call.
type Lease struct {
	Session *Session
	// Client is valid until Release.
	Client warehouse.Client
	// Ctx is cancelled when the caller's context ends or the session is retired.
	Ctx context.Context

	stop    func() bool
	cancel  context.CancelFunc
	release sync.Once
}

// Release returns the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.release.Do(func() {
		l.stop()
		l.cancel()
		l.Session.leases.Done()
	})
}

// Wrap translates err from work done under the lease. Failures caused by the
// session being retired become NoSession.
func (l *Lease) Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if l.Session.State() == StateClosed {
		return errs.E(errs.KindNoSession, op, l.Session.ID, errors.New("session was replaced or disconnected"))
	}
	return err
}

// Options configure a Manager.
type Options struct {
	Registry *warehouse.Registry
	Retry    retry.Config
	Logger   zerolog.Logger
	// DefaultMaxOpenConns bounds the pool when a profile sets no limit.
	DefaultMaxOpenConns int
	DefaultDialTimeout  time.Duration
}

// Manager holds at most one Session.
type Manager struct {
	registry *warehouse.Registry
	retryer  *retry.Retryer
	log      zerolog.Logger
	maxConns int
	timeout  time.Duration

	mu        sync.RWMutex
	current   *Session
	listeners []func(sessionID string)
}

// NewManager builds a Manager. A nil registry means warehouse.Default().
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		opts.Registry = warehouse.Default()
	}
	if opts.Retry.Enabled && opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retry.IsTransient
	}
	r, err := retry.NewRetryer(opts.Retry)
	if err != nil {
		return nil, err
	}
	if opts.DefaultMaxOpenConns <= 0 {
		opts.DefaultMaxOpenConns = 8
	}
	if opts.DefaultDialTimeout <= 0 {
		opts.DefaultDialTimeout = 10 * time.Second
	}
	return &Manager{
		registry: opts.Registry,
		retryer:  r,
		log:      opts.Logger,
		maxConns: opts.DefaultMaxOpenConns,
		timeout:  opts.DefaultDialTimeout,
	}, nil
}

// Registry used to open sessions.
func (m *Manager) Registry() *warehouse.Registry { return m.registry }

// OnInvalidate registers fn to run with the id of every retired session.
func (m *Manager) OnInvalidate(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Connect validates p, performs the handshake and makes the result the only
// live session. On failure any existing session stays active.
func (m *Manager) Connect(ctx context.Context, p Profile) (*Session, error) {
	p = p.withDefaults()
	if err := p.Validate(m.registry); err != nil {
		metrics.ObserveConnect(p.Driver, "invalid")
		return nil, err
	}

	cfg := p.WarehouseConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = m.maxConns
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = m.timeout
	}

	var client warehouse.Client
	err := m.retryer.Do(ctx, func(ctx context.Context) error {
		c, err := m.registry.Open(ctx, cfg)
		if err != nil {
			m.log.Debug().Err(err).Str("driver", p.Driver).Str("host", p.Host).Msg("warehouse handshake failed")
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		metrics.ObserveConnect(p.Driver, "failed")
		return nil, errs.E(errs.KindConnectFailure, "connect", fmt.Sprintf("%s@%s:%s/%s", p.Driver, p.Host, p.Port, p.Database), err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          uuid.NewString(),
		Profile:     p.Redacted(),
		ConnectedAt: time.Now().UTC(),
		client:      client,
		ctx:         sctx,
		cancel:      cancel,
	}
	s.state.Store(int32(StateConnected))

	m.mu.Lock()
	old := m.current
	m.current = s
	m.mu.Unlock()

	if old != nil {
		m.retire(old)
	}
	metrics.ObserveConnect(p.Driver, "ok")
	metrics.SetSessionActive(true)
	m.log.Info().Str("session", s.ID).Str("driver", p.Driver).Str("host", p.Host).Str("database", p.Database).Msg("warehouse session connected")
	return s, nil
}

// Disconnect retires the current session, if any.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		m.retire(old)
		metrics.SetSessionActive(false)
	}
}

// CurrentSession returns the live session or nil.
func (m *Manager) CurrentSession() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Acquire leases the live session. A non-empty sessionID must match it,
// so a caller holding a stale session fails instead of silently using the new one.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	m.mu.RLock()
	s := m.current
	if s == nil {
		m.mu.RUnlock()
		return nil, errs.E(errs.KindNoSession, "acquire", sessionID, errors.New("not connected"))
	}
	if sessionID != "" && s.ID != sessionID {
		m.mu.RUnlock()
		return nil, errs.E(errs.KindNoSession, "acquire", sessionID, errors.New("session is no longer active"))
	}
	s.leases.Add(1)
	m.mu.RUnlock()

	lctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return &Lease{Session: s, Client: s.client, Ctx: lctx, stop: stop, cancel: cancel}, nil
}

// Close retires the current session and waits for its pool to close.
func (m *Manager) Close() error {
	m.mu.Lock()
	old := m.current
	m.current = nil
	m.mu.Unlock()
	if old == nil {
		return nil
	}
	old.state.Store(int32(StateClosed))
	old.cancel()
	m.notify(old.ID)
	old.leases.Wait()
	metrics.SetSessionActive(false)
	return old.client.Close()
}

func (m *Manager) retire(s *Session) {
	s.state.Store(int32(StateClosed))
	s.cancel()
	m.notify(s.ID)
	go func() {
		s.leases.Wait()
		if err := s.client.Close(); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID).Msg("closing retired session")
		}
		m.log.Info().Str("session", s.ID).Msg("warehouse session closed")
	}()
}

func (m *Manager) notify(id string) {
	m.mu.RLock()
	listeners := append([]func(string){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}
