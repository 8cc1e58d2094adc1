package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBufferSize is the per-subscriber channel bound (spec §5,
// Backpressure: "default 1024").
const DefaultBufferSize = 1024

// Bus distributes events to per-type subscriber channels using Go
// channels. When a subscriber's channel is full, Publish drops the
// OLDEST undelivered event for that subscriber to make room for the
// new one, so the most recent state always gets through.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]chan Event
	bufferSize  int
	logger      zerolog.Logger

	metricsMu      sync.Mutex
	publishedCount map[Type]int64
	droppedCount   map[Type]int64
}

// New creates an event bus with the given per-subscriber buffer size.
func New(bufferSize int, logger zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers:    make(map[Type][]chan Event),
		bufferSize:     bufferSize,
		logger:         logger,
		publishedCount: make(map[Type]int64),
		droppedCount:   make(map[Type]int64),
	}
}

// Subscribe returns a read-only channel receiving events of the given
// type.
func (b *Bus) Subscribe(t Type) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[t] = append(b.subscribers[t], ch)

	b.logger.Debug().
		Str("event_type", string(t)).
		Int("buffer_size", b.bufferSize).
		Int("total_subscribers", len(b.subscribers[t])).
		Msg("new event subscriber registered")

	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(t Type, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[t]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[t] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish sends event to every subscriber of event.Type(). Delivery is
// non-blocking: when a subscriber's channel is full, the oldest queued
// event is discarded to make room (spec §5 Backpressure).
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := append([]chan Event(nil), b.subscribers[event.Type()]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var dropped int
	for i, ch := range subs {
		select {
		case ch <- event:
		case <-ctx.Done():
			b.logger.Warn().Str("event_type", string(event.Type())).Msg("publish canceled by context")
			return
		default:
			select {
			case <-ch:
				dropped++
			default:
			}
			select {
			case ch <- event:
			default:
				b.logger.Warn().
					Str("event_type", string(event.Type())).
					Int("subscriber_index", i).
					Msg("subscriber channel full, event dropped")
			}
		}
	}

	b.updateMetrics(event.Type(), len(subs), dropped)
}

// Close closes every subscriber channel and clears the registry.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		b.logger.Info().Str("event_type", string(t)).Int("subscribers", len(subs)).Msg("closed subscriber channels")
	}
	b.subscribers = make(map[Type][]chan Event)
}

// SubscriberCount reports the current subscriber count for t.
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[t])
}

func (b *Bus) updateMetrics(t Type, published, dropped int) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	b.publishedCount[t] += int64(published)
	b.droppedCount[t] += int64(dropped)
}

// Metrics returns published/dropped counters per event type.
func (b *Bus) Metrics() map[Type][2]int64 {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	out := make(map[Type][2]int64, len(b.publishedCount))
	for t, p := range b.publishedCount {
		out[t] = [2]int64{p, b.droppedCount[t]}
	}
	return out
}
