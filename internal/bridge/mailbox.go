package bridge

import "sync"

// mailbox is an unbounded FIFO. The read loop must never block on a busy
// dispatcher, or replies the dispatcher is waiting for could not be routed.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Envelope
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) push(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.items = append(m.items, env)
	m.cond.Signal()
}

// pop blocks until an item is available. It returns false once the mailbox
// is closed and drained.
func (m *mailbox) pop() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.items) == 0 {
		return Envelope{}, false
	}
	env := m.items[0]
	m.items[0] = Envelope{}
	m.items = m.items[1:]
	return env, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
