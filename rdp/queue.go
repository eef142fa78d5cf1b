package rdp

import "sync"

// queue is an unbounded FIFO bridging a producer that must never block
// (the session task emitting events) and a consumer reading from a
// channel. A pump goroutine buffers
// in-flight items; memory grows instead of blocking the producer.
type queue[T any] struct {
	in  chan T
	out chan T
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.pump()
	return q
}

func (q *queue[T]) pump() {
	var buf []T
	for {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case v, ok := <-q.in:
			if !ok {
				for _, item := range buf {
					q.out <- item
				}
				close(q.out)
				return
			}
			buf = append(buf, v)
		case out <- next:
			buf = buf[1:]
		}
	}
}

// push enqueues one item. It blocks only for the pump's handoff, never
// on the consumer.
func (q *queue[T]) push(v T) {
	q.in <- v
}

// channel returns the consumer side. It is closed after close drains.
func (q *queue[T]) channel() <-chan T {
	return q.out
}

// close stops the queue. Buffered items are still delivered, then the
// consumer channel closes. The queue is single-producer: only the
// goroutine that pushes may close.
func (q *queue[T]) close() {
	close(q.in)
}

// mailbox is an unbounded multi-producer FIFO for session commands. The
// registry's dispatch paths put from multiple goroutines; the session
// task drains after each ready signal. Unlike queue it survives puts
// racing its close: a put after close is dropped, because the session
// that would handle it is already gone.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// put enqueues one item and reports whether the mailbox was open.
func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items = append(m.items, v)
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// take dequeues one item if any is pending.
func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items = m.items[1:]
	return v, true
}

// ready signals that at least one item has been put since the last
// drain. Consumers select on it and then take until empty.
func (m *mailbox[T]) ready() <-chan struct{} {
	return m.signal
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
}
