// Package obs wires observability around the session kernel: per-tool
// Prometheus metrics, OpenTelemetry tracing spans, and a bounded-channel
// event sink so no call path ever blocks on an observer.
package obs

import "sync"

// Event is one observable occurrence in the kernel (a dispatched request, a
// completed tool call, a policy decision). Kind distinguishes the payload
// shape; Fields carries structured detail for a sink to format.
type Event struct {
	Kind   string
	Fields map[string]any
}

// Handler receives events published to a Sink.
type Handler func(Event)

// Sink is a bounded, non-blocking fan-out of Events to subscribed
// handlers: a buffered channel feeding one dispatch goroutine. Publish
// drops on a full buffer rather than blocking the caller.
type Sink struct {
	mu       sync.RWMutex
	handlers []Handler
	ch       chan Event
	done     chan struct{}
	dropped  uint64
}

// NewSink creates a sink with the given channel buffer size and starts its
// dispatch goroutine.
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	for {
		select {
		case ev := <-s.ch:
			s.dispatch(ev)
		case <-s.done:
			return
		}
	}
}

func (s *Sink) dispatch(ev Event) {
	s.mu.RLock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

// Subscribe registers h and returns an unsubscribe function.
func (s *Sink) Subscribe(h Handler) func() {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	idx := len(s.handlers) - 1
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.handlers) {
			s.handlers[idx] = nil
		}
	}
}

// Publish enqueues ev without blocking; a full buffer drops the event and
// increments the drop counter rather than stalling the caller.
func (s *Sink) Publish(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *Sink) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Close stops the dispatch goroutine.
func (s *Sink) Close() {
	close(s.done)
}
