// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from the generation pipeline and the API
// to subscribers such as the WebSocket stream and the MQTT forwarder.
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePipeline identifies events from the generation pipeline.
	SourcePipeline = "pipeline"
	// SourceAPI identifies events from the HTTP API.
	SourceAPI = "api"
	// SourceConnwatch identifies dependency health transitions.
	SourceConnwatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindRunStart signals the beginning of a generation run.
	// Data: run_id, url, user_id.
	KindRunStart = "run_start"
	// KindRunComplete signals a successful generation run.
	// Data: run_id, video_id, model, tokens_in, tokens_out,
	// cost_usd, transcript_source, elapsed_ms, user_id.
	KindRunComplete = "run_complete"
	// KindRunFailed signals a failed generation run.
	// Data: run_id, kind, error, elapsed_ms, user_id.
	KindRunFailed = "run_failed"

	// KindPostCreated signals a post was stored.
	// Data: post_id, video_id, user_id.
	KindPostCreated = "post_created"
	// KindPostDeleted signals a post was removed.
	// Data: post_id, user_id.
	KindPostDeleted = "post_deleted"
	// KindUserSignup signals a new account.
	// Data: user_id.
	KindUserSignup = "user_signup"
	// KindServiceUp signals a watched dependency became reachable.
	// Data: service.
	KindServiceUp = "service_up"
	// KindServiceDown signals a watched dependency became unreachable.
	// Data: service, error.
	KindServiceDown = "service_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus fans events out to subscribers on buffered channels. A
// subscriber whose buffer is full misses the event; publishers never
// block. All methods except Subscribe and Unsubscribe accept a nil
// receiver.
type Bus struct {
	mu sync.RWMutex
	// subs is keyed by the receive side handed to the subscriber.
	subs    map[<-chan Event]chan Event
	dropped atomic.Uint64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with buffer room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer depth. Every
// Subscribe needs a matching Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel. Unknown
// or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber's buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Emit publishes an event stamped with the current time. Like
// Publish, it is a no-op on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// UserID returns the user_id carried in e.Data, or "" when absent.
func (e Event) UserID() string {
	id, _ := e.Data["user_id"].(string)
	return id
}
