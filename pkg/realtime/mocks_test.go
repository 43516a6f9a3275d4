package realtime

import (
	"sync"
	"time"

	"rtlink/pkg/core"
)

type MockHandle struct {
	mu        sync.Mutex
	url       string
	opts      core.TransportOptions
	listeners map[core.TransportEvent][]core.Listener
	removed   map[core.TransportEvent][]core.Listener
	started   bool
	closed    bool
	detached  bool
	sent      [][]byte
}

func (h *MockHandle) On(event core.TransportEvent, fn core.Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[event] = append(h.listeners[event], fn)
}

func (h *MockHandle) Connect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
}

func (h *MockHandle) Emit(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.ErrNotConnected
	}
	h.sent = append(h.sent, data)
	return nil
}

func (h *MockHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *MockHandle) RemoveAllListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	h.removed = h.listeners
	h.listeners = make(map[core.TransportEvent][]core.Listener)
}

// trigger delivers an event to the currently attached listeners.
func (h *MockHandle) trigger(event core.TransportEvent, p core.Payload) {
	h.mu.Lock()
	fns := append([]core.Listener(nil), h.listeners[event]...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// triggerLate delivers an event to listeners that were already detached, like a callback in flight during close.
func (h *MockHandle) triggerLate(event core.TransportEvent, p core.Payload) {
	h.mu.Lock()
	fns := append([]core.Listener(nil), h.removed[event]...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (h *MockHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *MockHandle) isDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

func (h *MockHandle) frames() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.sent...)
}

type MockDialer struct {
	mu      sync.Mutex
	handles []*MockHandle
}

func (d *MockDialer) Open(url string, opts core.TransportOptions) core.TransportHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &MockHandle{
		url:       url,
		opts:      opts,
		listeners: make(map[core.TransportEvent][]core.Listener),
	}
	d.handles = append(d.handles, h)
	return h
}

func (d *MockDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

func (d *MockDialer) handle(i int) *MockHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[i]
}

func (d *MockDialer) last() *MockHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[len(d.handles)-1]
}

type mockTimer struct {
	scheduler *MockScheduler
	delay     time.Duration
	callback  func()
	stopped   bool
	fired     bool
}

func (t *mockTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type MockScheduler struct {
	mu     sync.Mutex
	timers []*mockTimer
}

func (s *MockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &mockTimer{scheduler: s, delay: d, callback: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns the timers that are neither stopped nor fired.
func (s *MockScheduler) pending() []*mockTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mockTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *MockScheduler) pendingWithDelay(d time.Duration) []*mockTimer {
	var out []*mockTimer
	for _, t := range s.pending() {
		if t.delay == d {
			out = append(out, t)
		}
	}
	return out
}

func (s *MockScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

// fire runs t like an elapsed timer. Stopped timers do nothing.
func (s *MockScheduler) fire(t *mockTimer) {
	s.mu.Lock()
	if t.stopped || t.fired {
		s.mu.Unlock()
		return
	}
	t.fired = true
	s.mu.Unlock()
	t.callback()
}

type MockCredentials struct {
	mu        sync.Mutex
	token     core.Token
	clears    int
	expired   bool
	listeners map[int]func()
	nextID    int
}

func newMockCredentials(value string) *MockCredentials {
	return &MockCredentials{
		token:     core.Token{Value: value},
		listeners: make(map[int]func()),
	}
}

func (c *MockCredentials) ValidToken() (core.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.IsZero() || c.expired {
		return core.Token{}, false
	}
	return c.token, true
}

func (c *MockCredentials) ClearIfExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	if c.expired {
		c.token = core.Token{}
	}
}

func (c *MockCredentials) OnCredentialRefreshed(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *MockCredentials) set(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = core.Token{Value: value}
	c.expired = false
}

func (c *MockCredentials) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = true
}

func (c *MockCredentials) refreshed() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *MockCredentials) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

func (c *MockCredentials) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}
