// Package broadcast implements the in-process fan-out hub. Every
// pipeline stage publishes {type,data} envelopes; WebSocket sessions and
// the Redis mirror subscribe. Slow consumers lose their oldest queued
// event rather than stalling the publisher.
package broadcast

import (
	"sync"

	"aurafx/internal/model"
)

const defaultQueueSize = 100

// Subscription is one consumer's bounded event queue.
type Subscription struct {
	ch chan model.Event
}

// Events returns the receive side of the queue. The channel closes when
// the subscription is removed or the hub shuts down.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Hub fans events out to subscribers.
type Hub struct {
	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	queueSize int
	closed    bool

	// OnDrop, if set, is called once per dropped event (metrics hook).
	OnDrop func()
}

// New creates a hub with the given per-subscriber queue size.
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a new consumer.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan model.Event, h.queueSize)}
	h.mu.Lock()
	if !h.closed {
		h.subs[sub] = struct{}{}
	} else {
		close(sub.ch)
	}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its queue.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Publish delivers the event to every subscriber. A full queue drops its
// oldest event to make room; the publisher never blocks.
func (h *Hub) Publish(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest, then retry once. The consumer
		// may have drained concurrently, so the retry stays non-blocking.
		select {
		case <-sub.ch:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close shuts the hub down and closes all subscriber queues.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*Subscription]struct{})
}
