package events

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Event is one message on the bus.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Handler consumes events for one subscription. Handlers run on the
// subscription's own goroutine, one event at a time.
type Handler func(Event)

// Bus is an in-process publish/subscribe hub.
//
// Publish never blocks on subscribers: each subscription owns an unbounded
// FIFO queue drained by a dedicated goroutine, so a slow consumer delays
// only itself and every subscriber sees events in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool

	seq    atomic.Uint64
	logger Logger
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger. Call before Subscribe.
func (b *Bus) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Subscribe registers handler for the given topic patterns. A pattern is an
// exact topic, a prefix ending in ".*" (e.g. "device.*"), or "*" for all
// topics. With no patterns the subscription receives everything.
func (b *Bus) Subscribe(name string, handler Handler, patterns ...string) *Subscription {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	sub := &Subscription{
		name:     name,
		patterns: patterns,
		handler:  handler,
		bus:      b,
		done:     make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closed = true
		close(sub.done)
		return sub
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.run()
	return sub
}

// Publish stamps payload with an ID, sequence number and timestamp and
// queues it for every matching subscription. It never blocks on handlers.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Seq:       b.seq.Add(1),
		Timestamp: b.now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.matches(topic) {
			sub.enqueue(ev)
		}
	}
}

// Close stops every subscription and waits for in-flight handlers to return.
// Queued events that have not been handled are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscription is a registered handler with its pending queue.
type Subscription struct {
	name     string
	patterns []string
	handler  Handler
	bus      *Bus

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

// Name returns the subscription name given to Subscribe.
func (s *Subscription) Name() string { return s.name }

// Pending returns the number of queued, unhandled events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close unsubscribes and waits for the handler goroutine to exit.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Subscription) matches(topic string) bool {
	for _, p := range s.patterns {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

// MatchTopic reports whether topic matches pattern. A pattern is an exact
// topic, "*" for everything, or "prefix.*" for one topic family.
func MatchTopic(pattern, topic string) bool {
	switch {
	case pattern == "*" || pattern == topic:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.dispatch(ev)
	}
}

// dispatch runs the handler, recovering panics so one bad event cannot stop
// the subscription.
func (s *Subscription) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("event handler panicked",
				"subscription", s.name,
				"topic", ev.Topic,
				"seq", ev.Seq,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.handler(ev)
}
