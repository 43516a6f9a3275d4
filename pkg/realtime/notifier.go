package realtime

import "sync"

// notifier runs observer callbacks in order on its own goroutine so a callback may call back
// into the manager (Send, Teardown, Close) without stalling the event loop.
type notifier struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newNotifier() *notifier {
	return &notifier{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (n *notifier) push(fn func()) {
	n.mu.Lock()
	n.pending = append(n.pending, fn)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		if n.drain() {
			continue
		}
		select {
		case <-n.wake:
		case <-n.stop:
			n.drain()
			return
		}
	}
}

// drain runs the callbacks queued so far and reports whether there were any.
func (n *notifier) drain() bool {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch) > 0
}

// close stops the goroutine after the queued callbacks have run. It does not wait,
// so it is safe to call from a callback.
func (n *notifier) close() {
	n.once.Do(func() { close(n.stop) })
}

// flush waits until every callback queued before the call has run.
func (n *notifier) flush() {
	done := make(chan struct{})
	n.push(func() { close(done) })
	select {
	case <-done:
	case <-n.done:
	}
}
