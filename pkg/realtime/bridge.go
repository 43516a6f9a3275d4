package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtlink/pkg/conn"
	"rtlink/pkg/core"
)

// Bridge turns identity changes and credential refresh notifications into manager inputs.
//
// Refresh notifications are debounced so the new token has reached the credential source
// before the manager reconnects with it.
type Bridge struct {
	manager     *Manager
	scheduler   Scheduler
	debounce    time.Duration
	unsubscribe func()
	logger      zerolog.Logger

	mu       sync.Mutex
	identity string
	timer    Timer
	timerID  uint64
	closed   bool
}

// NewBridge wires m to the refresh notifications of creds.
func NewBridge(m *Manager, creds core.CredentialSource) *Bridge {
	b := &Bridge{
		manager:   m,
		scheduler: m.scheduler,
		debounce:  m.config.RefreshDebounce,
		logger:    zerolog.Nop(),
	}
	b.unsubscribe = creds.OnCredentialRefreshed(b.onRefreshed)
	return b
}

// SetLogger configures the logger.
func (b *Bridge) SetLogger(logger zerolog.Logger) {
	b.mu.Lock()
	b.logger = logger.With().Str("component", "bridge").Logger()
	b.mu.Unlock()
}

// Login reports that identity is authenticated. A different identity tears the current
// session down first. Logging in again as the connected identity only reconciles the credential.
func (b *Bridge) Login(identity string) {
	if identity == "" {
		b.Logout()
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	prev := b.identity
	b.identity = identity
	logger := b.logger
	b.mu.Unlock()

	switch {
	case prev == identity && b.manager.State() == conn.StateConnected:
		b.manager.reconcile()
		return
	case prev != "" && prev != identity:
		logger.Info().Str("identity", identity).Msg("identity changed, tearing down")
		b.manager.Teardown()
	}
	b.manager.Connect(identity)
}

// Logout clears the identity and tears the connection down.
func (b *Bridge) Logout() {
	b.mu.Lock()
	b.identity = ""
	b.stopTimer()
	logger := b.logger
	b.mu.Unlock()

	logger.Info().Msg("identity cleared, tearing down")
	b.manager.Teardown()
}

// Reconcile reconnects if the credential source holds a different token than the live transport.
func (b *Bridge) Reconcile() {
	b.manager.reconcile()
}

// Close stops listening for refresh notifications. The manager is left as is.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.stopTimer()
	b.mu.Unlock()

	b.unsubscribe()
}

func (b *Bridge) onRefreshed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.stopTimer()
	b.timerID++
	id := b.timerID
	b.timer = b.scheduler.AfterFunc(b.debounce, func() { b.fire(id) })
	b.logger.Debug().Dur("debounce", b.debounce).Msg("credential refreshed")
}

func (b *Bridge) fire(id uint64) {
	b.mu.Lock()
	if id != b.timerID || b.closed {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	identity := b.identity
	b.mu.Unlock()

	if identity == "" {
		return
	}
	b.manager.ForceReconnect()
}

// stopTimer must be called with b.mu held.
func (b *Bridge) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerID++
}
