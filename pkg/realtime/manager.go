// Package realtime runs the connection state machine against a real transport, credential source and clock.
//
// All machine state is owned by a single event-loop goroutine. Transport callbacks, timer callbacks and
// public calls only post work to that loop, so transitions never race and no lock guards the machine.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rtlink/internal/ratelimit"
	"rtlink/pkg/conn"
	"rtlink/pkg/core"
)

const queueSize = 64

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler replaces the timer source used for retries.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// Stats is a point-in-time view of the manager's counters.
type Stats struct {
	TransportsOpened uint64
	TransportsClosed uint64
	RetriesScheduled uint64
	StaleEvents      uint64
	// FramesSent and FramesThrottled count Send calls admitted or refused by the send rate limit.
	FramesSent      int64
	FramesThrottled int64
}

type counters struct {
	opened  atomic.Uint64
	closed  atomic.Uint64
	retries atomic.Uint64
	stale   atomic.Uint64
}

// Manager maintains a single authenticated streaming connection.
// It is safe for concurrent use.
type Manager struct {
	config    *core.Config
	creds     core.CredentialSource
	dialer    core.Dialer
	machine   conn.Machine
	scheduler Scheduler
	limiter   *ratelimit.Limiter
	level     zerolog.Level
	capLevel  bool
	logger    atomic.Pointer[zerolog.Logger]

	// owned by the loop goroutine
	snap        conn.Snapshot
	handle      core.TransportHandle
	handleID    uint64
	handleToken core.Token
	handleTag   string
	timer       Timer
	timerID     uint64

	state     conn.AtomicState
	connected atomic.Bool
	attempts  atomic.Int32
	stats     counters

	mu          sync.RWMutex
	lastErr     error
	nextSub     uint64
	stateSubs   map[uint64]func(conn.State)
	messageSubs map[uint64]func([]byte)
	callbacks   *notifier

	queue     chan func()
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Manager and starts its event loop. The manager stays Idle until Connect is called.
func New(config *core.Config, creds core.CredentialSource, dialer core.Dialer, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	if creds == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	capLevel := err == nil && config.LogLevel != ""

	m := &Manager{
		config: config,
		creds:  creds,
		dialer: dialer,
		machine: conn.NewMachine(conn.Policy{
			MaxAttempts:    config.MaxAttempts,
			BaseDelay:      config.BaseDelay,
			MaxDelay:       config.MaxDelay,
			AuthErrorDelay: config.AuthErrorDelay,
		}),
		scheduler:   SystemScheduler(),
		limiter:     ratelimit.New(config.SendRateLimit, config.SendRatePeriod),
		level:       level,
		capLevel:    capLevel,
		stateSubs:   make(map[uint64]func(conn.State)),
		messageSubs: make(map[uint64]func([]byte)),
		callbacks:   newNotifier(),
		queue:       make(chan func(), queueSize),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	nop := zerolog.Nop()
	m.logger.Store(&nop)
	for _, opt := range opts {
		opt(m)
	}

	go m.run()
	go m.callbacks.run()
	return m, nil
}

// SetLogger configures the logger. Records below the configured log level are dropped.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	if m.capLevel {
		logger = logger.Level(m.level)
	}
	l := logger.With().Str("component", "realtime").Logger()
	m.logger.Store(&l)
}

func (m *Manager) log() *zerolog.Logger {
	return m.logger.Load()
}

// Connect requests a connection for identity. It is ignored unless the manager is Idle.
func (m *Manager) Connect(identity string) {
	m.submit(conn.Event{Kind: conn.EventConnectRequested, Identity: identity})
}

// ForceReconnect cancels any pending retry, resets the attempt counter and reconnects immediately.
func (m *Manager) ForceReconnect() {
	m.submit(conn.Event{Kind: conn.EventForceReconnect})
}

// Teardown cancels the pending retry, closes the transport and returns to Idle.
// It is idempotent. No reconnect happens afterwards until the next Connect.
func (m *Manager) Teardown() {
	m.submit(conn.Event{Kind: conn.EventTeardown})
}

// Close tears the connection down and stops the event loop. Calling Close more than once is safe.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		done := make(chan struct{})
		if m.post(func() {
			m.dispatch(conn.Event{Kind: conn.EventTeardown})
			close(done)
		}) {
			<-done
		}
		close(m.stopChan)
		<-m.done
		m.callbacks.close()
		m.log().Debug().Msg("manager closed")
	})
	return nil
}

// State returns the current connection state.
func (m *Manager) State() conn.State {
	return m.state.Load()
}

// Connected reports whether a transport is currently established.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Attempts returns the number of consecutive failures since the last reset.
func (m *Manager) Attempts() int {
	return int(m.attempts.Load())
}

// LastError returns the most recent failure, or nil after a successful connect.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	frames := m.limiter.Metrics()
	return Stats{
		TransportsOpened: m.stats.opened.Load(),
		TransportsClosed: m.stats.closed.Load(),
		RetriesScheduled: m.stats.retries.Load(),
		StaleEvents:      m.stats.stale.Load(),
		FramesSent:       frames.Passed,
		FramesThrottled:  frames.Dropped,
	}
}

// Subscribe registers fn to be called with every new state. Callbacks run in order on a dedicated
// goroutine and may call any Manager method, including Close.
func (m *Manager) Subscribe(fn func(conn.State)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.stateSubs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.stateSubs, id)
			m.mu.Unlock()
		})
	}
}

// OnMessage registers fn to receive inbound frames from the live transport. It runs on the same
// goroutine as Subscribe callbacks, so replying with Send from fn is safe.
func (m *Manager) OnMessage(fn func([]byte)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.messageSubs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.messageSubs, id)
			m.mu.Unlock()
		})
	}
}

// Send encodes v as JSON and writes it to the live transport. A []byte is written as is.
// It returns core.ErrNotConnected unless the manager is Connected.
func (m *Manager) Send(ctx context.Context, v any) error {
	data, ok := v.([]byte)
	if !ok {
		encoded, err := sonic.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		data = encoded
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	result := make(chan error, 1)
	if !m.post(func() {
		if m.snap.State != conn.StateConnected || m.handle == nil {
			result <- core.ErrNotConnected
			return
		}
		result <- m.handle.Emit(data)
	}) {
		return core.ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.done:
		return core.ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.queue:
			fn()
		case <-m.stopChan:
			return
		}
	}
}

// post queues fn on the event loop. It returns false once the manager is closed.
func (m *Manager) post(fn func()) bool {
	select {
	case <-m.stopChan:
		return false
	default:
	}

	select {
	case m.queue <- fn:
		return true
	case <-m.stopChan:
		return false
	}
}

func (m *Manager) submit(ev conn.Event) {
	if !m.post(func() { m.dispatch(ev) }) {
		m.log().Debug().Str("event", ev.Kind.String()).Msg("manager closed, event dropped")
	}
}

// flush waits until everything queued before the call has run, including the callbacks it produced.
func (m *Manager) flush() {
	done := make(chan struct{})
	if m.post(func() { close(done) }) {
		select {
		case <-done:
		case <-m.done:
		}
	}
	m.callbacks.flush()
}

func (m *Manager) dispatch(ev conn.Event) {
	switch ev.Kind {
	case conn.EventConnectRequested, conn.EventRetryTimerFired, conn.EventForceReconnect:
		if token, ok := m.creds.ValidToken(); ok {
			ev.Token = token
		}
	}

	prev := m.snap
	next, effects := m.machine.Step(prev, ev)
	m.snap = next
	for _, effect := range effects {
		m.apply(effect)
	}
	m.publish(prev, next, ev)
}

func (m *Manager) apply(effect conn.Effect) {
	switch effect.Kind {
	case conn.EffectCancelTimer:
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.timerID++
	case conn.EffectCloseTransport:
		m.closeTransport()
	case conn.EffectOpenTransport:
		m.openTransport(effect.Token)
	case conn.EffectScheduleRetry:
		m.scheduleRetry(effect)
	case conn.EffectInvalidateCredential:
		m.creds.ClearIfExpired()
	}
}

func (m *Manager) scheduleRetry(effect conn.Effect) {
	m.timerID++
	id := m.timerID
	m.stats.retries.Add(1)
	m.timer = m.scheduler.AfterFunc(effect.Delay, func() {
		m.post(func() {
			if id != m.timerID {
				m.stats.stale.Add(1)
				m.log().Debug().Uint64("timer", id).Msg("stale retry timer ignored")
				return
			}
			m.timer = nil
			m.dispatch(conn.Event{Kind: conn.EventRetryTimerFired})
		})
	})

	m.log().Info().
		Dur("delay", effect.Delay).
		Int("attempt", m.snap.Attempts).
		Msg("reconnect scheduled")
}

func (m *Manager) openTransport(token core.Token) {
	m.handleID++
	id := m.handleID

	handle := m.dialer.Open(m.config.URL, core.TransportOptions{
		Token:            token,
		ForceNew:         true,
		Transports:       m.config.Transports,
		HandshakeTimeout: m.config.HandshakeTimeout,
	})

	handle.On(core.EventConnect, func(core.Payload) {
		m.post(func() { m.fromTransport(id, conn.Event{Kind: conn.EventConnected}) })
	})
	handle.On(core.EventConnectError, func(p core.Payload) {
		ev := conn.Event{Kind: conn.EventConnectError, Failure: conn.Classify(p.Err), Cause: p.Err}
		m.post(func() { m.fromTransport(id, ev) })
	})
	handle.On(core.EventDisconnect, func(p core.Payload) {
		ev := conn.Event{Kind: conn.EventDisconnected, Reason: p.Reason, Cause: p.Err}
		m.post(func() { m.fromTransport(id, ev) })
	})
	handle.On(core.EventMessage, func(p core.Payload) {
		m.post(func() { m.deliver(id, p.Data) })
	})

	m.handle = handle
	m.handleToken = token
	m.handleTag = uuid.NewString()
	m.stats.opened.Add(1)
	m.log().Debug().
		Uint64("transport", id).
		Str("conn_id", m.handleTag).
		Msg("transport opened")

	handle.Connect()
}

func (m *Manager) closeTransport() {
	if m.handle == nil {
		return
	}
	m.handle.RemoveAllListeners()
	m.handle.Close()
	m.log().Debug().
		Uint64("transport", m.handleID).
		Str("conn_id", m.handleTag).
		Msg("transport closed")

	m.handle = nil
	m.handleToken = core.Token{}
	m.handleTag = ""
	m.handleID++
	m.stats.closed.Add(1)
}

// fromTransport drops events from handles that have since been replaced or closed.
func (m *Manager) fromTransport(id uint64, ev conn.Event) {
	if id != m.handleID || m.handle == nil {
		m.stats.stale.Add(1)
		m.log().Debug().
			Uint64("transport", id).
			Str("event", ev.Kind.String()).
			Msg("stale transport event ignored")
		return
	}
	m.dispatch(ev)
}

func (m *Manager) deliver(id uint64, data []byte) {
	if id != m.handleID || m.handle == nil {
		m.stats.stale.Add(1)
		return
	}

	m.mu.RLock()
	fns := make([]func([]byte), 0, len(m.messageSubs))
	for _, fn := range m.messageSubs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	m.callbacks.push(func() {
		for _, fn := range fns {
			fn(data)
		}
	})
}

// reconcile forces a reconnect when the credential source holds a different valid token
// than the one the live transport was opened with.
func (m *Manager) reconcile() {
	m.post(func() {
		if m.snap.State != conn.StateConnected {
			return
		}
		token, ok := m.creds.ValidToken()
		if !ok || token.Value == m.handleToken.Value {
			return
		}
		m.log().Info().Msg("credential changed under live transport, reconnecting")
		m.dispatch(conn.Event{Kind: conn.EventForceReconnect})
	})
}

func (m *Manager) publish(prev, next conn.Snapshot, ev conn.Event) {
	m.mu.Lock()
	m.lastErr = next.LastErr
	m.mu.Unlock()

	m.attempts.Store(int32(next.Attempts))
	m.connected.Store(next.State == conn.StateConnected)
	m.state.Store(next.State)

	if prev.State == next.State && prev.LastErr == next.LastErr {
		return
	}

	var entry *zerolog.Event
	switch next.State {
	case conn.StateFailed:
		entry = m.log().Error()
	case conn.StateReconnectScheduled:
		entry = m.log().Warn()
	default:
		entry = m.log().Info()
	}
	if next.LastErr != nil && next.LastErr != prev.LastErr {
		entry = entry.Err(next.LastErr)
	}
	entry.
		Str("from", prev.State.String()).
		Str("to", next.State.String()).
		Str("event", ev.Kind.String()).
		Int("attempts", next.Attempts).
		Msg("connection state changed")

	if prev.State == next.State {
		return
	}

	m.mu.RLock()
	fns := make([]func(conn.State), 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	state := next.State
	m.callbacks.push(func() {
		for _, fn := range fns {
			fn(state)
		}
	})
}
