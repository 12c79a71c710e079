// Package events fans trace activity out to observers. The thought
// processor and the MCP endpoint publish; the /v1/events WebSocket
// stream and the MQTT publisher subscribe. Publishing on a nil *Bus is
// a no-op, so producers never need a guard.
package events

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sources.
const (
	// SourceTrace is the thought processor.
	SourceTrace = "trace"
	// SourceMCP is the MCP endpoint.
	SourceMCP = "mcp"
)

// Kinds, grouped by source.
const (
	// KindThoughtProcessed: a thought was validated and stored.
	// Data: thought_number, total_thoughts, category, branch_id
	// (branch thoughts only), history_length, evicted.
	KindThoughtProcessed = "thought_processed"
	// KindThoughtRejected: a thought failed validation or processing.
	// Data: error, kind.
	KindThoughtRejected = "thought_rejected"
	// KindHistoryCleared: history and branches were reset.
	KindHistoryCleared = "history_cleared"

	// KindSessionStarted: an MCP client completed initialize.
	// Data: session_id, client_name, protocol_version.
	KindSessionStarted = "session_started"
	// KindSessionEnded: an MCP session was closed or expired.
	// Data: session_id, reason.
	KindSessionEnded = "session_ended"
)

var droppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seqthink",
	Subsystem: "events",
	Name:      "dropped_total",
	Help:      "Events not delivered because a subscriber's buffer was full.",
}, []string{"source"})

// Event is one published occurrence.
type Event struct {
	// ID lets consumers such as MQTT subscribers de-duplicate.
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// subscription is one subscriber's channel and source filter. An empty
// filter accepts every source.
type subscription struct {
	ch      chan Event
	sources []string
	dropped int
}

func (s *subscription) accepts(source string) bool {
	return len(s.sources) == 0 || slices.Contains(s.sources, source)
}

// Bus is a non-blocking broadcast bus. Each subscriber has a buffered
// channel; when it is full the event is dropped for that subscriber
// only and counted.
type Bus struct {
	mu   sync.Mutex
	subs map[<-chan Event]*subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]*subscription)}
}

// Publish delivers e to every subscriber whose filter accepts its
// source, stamping a missing ID or timestamp first.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if !s.accepts(e.Source) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped++
			droppedEvents.WithLabelValues(e.Source).Inc()
		}
	}
}

// Emit publishes an event built from its parts.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with a buffer of bufSize events.
// When sources are given, only events from those sources are
// delivered. Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int, sources ...string) <-chan Event {
	s := &subscription{ch: make(chan Event, bufSize), sources: slices.Clone(sources)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s.ch] = s
	return s.ch
}

// Unsubscribe removes the subscription and closes its channel. It
// returns how many events the subscriber missed. Unknown or already
// removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[ch]
	if !ok {
		return 0
	}
	delete(b.subs, ch)
	close(s.ch)
	return s.dropped
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
