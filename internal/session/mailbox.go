package session

import "sync"

// mailbox runs posted closures one at a time on a single goroutine.
// post never blocks, so engine callbacks can enqueue from inside a closure.
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	signal  chan struct{}
	closed  bool
	stopped chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go m.loop()
	return m
}

// post enqueues fn. It reports false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the mailbox goroutine and waits for it. Must not be called
// from inside a posted closure.
func (m *mailbox) do(fn func()) bool {
	done := make(chan struct{})
	if !m.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-m.stopped:
		// The loop drains the queue before stopping.
		<-done
		return true
	}
}

// close stops accepting work; queued closures still run.
func (m *mailbox) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	<-m.stopped
}

func (m *mailbox) loop() {
	defer close(m.stopped)
	for range m.signal {
		for {
			m.mu.Lock()
			batch := m.queue
			m.queue = nil
			closed := m.closed
			m.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}
