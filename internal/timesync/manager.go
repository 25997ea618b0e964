// Package timesync keeps an estimate of the offset between the local clock
// and the exchange clock.
package timesync

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval     = time.Hour
	DefaultFetchTimeout = 10 * time.Second
)

// ServerTimeFunc returns the server's current time in epoch milliseconds
type ServerTimeFunc func(ctx context.Context) (int64, error)

// Observer receives sync outcomes. Either hook may be nil.
type Observer struct {
	OnOffset  func(offsetMs int64)
	OnFailure func(err error)
}

type state uint8

const (
	stateIdle state = iota
	stateSyncing
)

// pendingSync is the outstanding measurement callers attach to
type pendingSync struct {
	done chan struct{}
}

// Manager owns the clock offset for one client. The offset is only changed
// by a successful measurement or SetOffset.
type Manager struct {
	fetch        ServerTimeFunc
	now          func() time.Time
	interval     time.Duration
	fetchTimeout time.Duration
	disabled     bool
	logger       zerolog.Logger
	observer     Observer

	offset   atomic.Int64
	lastSync atomic.Int64 // unix ms of last successful sync, 0 if never

	mu      sync.Mutex
	state   state
	pending *pendingSync

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithInterval sets the refresh interval
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithDisabled turns Sync into a no-op
func WithDisabled(disabled bool) Option {
	return func(m *Manager) { m.disabled = disabled }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l.With().Str("component", "timesync").Logger() }
}

// WithObserver registers sync outcome hooks
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithFetchTimeout bounds a single server time fetch
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// New creates a Manager with a zero offset. Nothing runs until Start or Sync.
func New(fetch ServerTimeFunc, opts ...Option) *Manager {
	m := &Manager{
		fetch:        fetch,
		now:          time.Now,
		interval:     DefaultInterval,
		fetchTimeout: DefaultFetchTimeout,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Offset returns the current offset in ms. Positive means the local clock
// is behind the server.
func (m *Manager) Offset() int64 {
	return m.offset.Load()
}

// SetOffset overrides the offset
func (m *Manager) SetOffset(v int64) {
	m.offset.Store(v)
}

// LastSync returns when the last successful sync finished
func (m *Manager) LastSync() time.Time {
	ms := m.lastSync.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Disabled reports whether syncing is turned off
func (m *Manager) Disabled() bool {
	return m.disabled
}

// Now returns the local time shifted by the current offset, in epoch ms
func (m *Manager) Now() int64 {
	return m.now().UnixMilli() + m.Offset()
}

// Sync measures the offset, or waits for the measurement already in
// flight. Fetch failures are logged and leave the offset untouched; they
// are never returned. Sync returns early if ctx ends while waiting.
func (m *Manager) Sync(ctx context.Context) {
	if m.disabled || m.fetch == nil {
		return
	}

	m.mu.Lock()
	p := m.pending
	if m.state == stateIdle {
		p = &pendingSync{done: make(chan struct{})}
		m.state = stateSyncing
		m.pending = p
		go m.measure(context.WithoutCancel(ctx), p)
	}
	m.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
	}
}

func (m *Manager) measure(ctx context.Context, p *pendingSync) {
	defer func() {
		m.mu.Lock()
		m.state = stateIdle
		m.pending = nil
		m.mu.Unlock()
		close(p.done)
	}()

	ctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	start := m.now().UnixMilli()
	serverTime, err := m.fetch(ctx)
	end := m.now().UnixMilli()

	if err != nil {
		m.logger.Warn().
			Err(err).
			Int64("offset_ms", m.Offset()).
			Msg("Failed to fetch server time, keeping previous offset")
		if m.observer.OnFailure != nil {
			m.observer.OnFailure(err)
		}
		return
	}

	offset := computeOffset(start, end, serverTime)
	m.offset.Store(offset)
	m.lastSync.Store(end)

	m.logger.Debug().
		Int64("offset_ms", offset).
		Int64("round_trip_ms", end-start).
		Msg("Clock offset updated")
	if m.observer.OnOffset != nil {
		m.observer.OnOffset(offset)
	}
}

// computeOffset estimates server minus local time, assuming the server read
// its clock halfway through the round trip.
func computeOffset(start, end, serverTime int64) int64 {
	halfRoundTrip := float64(end-start) / 2
	return int64(math.Ceil(float64(serverTime-end) + halfRoundTrip))
}

// Start runs one sync in the background and then one per interval until
// Close. It returns immediately. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	if m.disabled || m.fetch == nil {
		return
	}
	m.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.cancel = cancel
		m.mu.Unlock()

		m.wg.Add(1)
		go m.run(runCtx)
	})
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	m.Sync(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sync(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the refresh loop. It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		cancel := m.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	m.wg.Wait()
}
