package analyst

import "sync"

// DefaultEventBufferSize is the per-subscriber queue depth used when the
// configured size is zero.
const DefaultEventBufferSize = 1024

// EventBus is a per-session, strictly ordered, append-only event log with
// subscriber fan-out.
//
// The session may start emitting before any subscriber attaches (the client
// typically receives the session id first, then opens its subscription), so
// every event is retained in the log and replayed, in order, to each new
// subscriber before live delivery begins. All subscribers observe the same
// order. Per-subscriber queues are bounded: a subscriber that cannot keep up
// is dropped rather than blocking the session.
//
// Single producer (the session's strategy goroutine), any number of consumers.
type EventBus struct {
	sessionID string
	bufSize   int

	mu     sync.Mutex
	log    []Event
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewEventBus creates a bus for one session. bufSize bounds each subscriber's
// queue; zero selects DefaultEventBufferSize.
func NewEventBus(sessionID string, bufSize int) *EventBus {
	if bufSize <= 0 {
		bufSize = DefaultEventBufferSize
	}
	return &EventBus{
		sessionID: sessionID,
		bufSize:   bufSize,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Publish appends e to the log and fans it out to all live subscribers.
// Publishing a terminal event closes the stream: subsequent publishes are
// dropped, and every subscriber's channel is closed after delivery. A
// subscriber whose queue is full is marked lagged and dropped immediately;
// the producer never blocks.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	// Timestamps must be non-decreasing in log order.
	if n := len(b.log); n > 0 && e.Timestamp < b.log[n-1].Timestamp {
		e.Timestamp = b.log[n-1].Timestamp
	}
	b.log = append(b.log, e)

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.lagged = true
			close(sub.ch)
			delete(b.subs, sub)
		}
	}

	if e.Type.IsTerminal() {
		b.closed = true
		for sub := range b.subs {
			close(sub.ch)
			delete(b.subs, sub)
		}
	}
}

// Subscribe attaches a new subscriber. The full backlog is replayed into its
// queue before any live event; if the stream already ended, the subscriber
// receives the backlog (including the terminal event) and its channel closes.
func (b *EventBus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		bus: b,
		ch:  make(chan Event, b.bufSize+len(b.log)),
	}
	for _, e := range b.log {
		sub.ch <- e
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Closed reports whether a terminal event has been published.
func (b *EventBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of events in the log.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}

// Subscriber is a read-only view over one session's event stream.
type Subscriber struct {
	bus    *EventBus
	ch     chan Event
	lagged bool
}

// Events returns the subscriber's channel. It is closed when the stream
// reaches a terminal event, the subscriber is dropped for lagging, or
// Close is called.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Lagged reports whether the subscriber was dropped because its queue
// overflowed. Valid after the Events channel closes.
func (s *Subscriber) Lagged() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.lagged
}

// Close detaches the subscriber. Safe to call after the stream has closed.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		close(s.ch)
		delete(s.bus.subs, s)
	}
}
