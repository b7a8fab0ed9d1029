// Package bus provides the synchronous in-process event bus that is the only
// cross-component communication path in the kernel.
//
// Publish dispatches to every current subscriber of the topic, in
// registration order, on the caller's goroutine. A panicking handler is
// recovered and logged; it never prevents the remaining handlers from
// running and never propagates to the publisher.
package bus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Topic names a class of kernel events. The set of topics is closed by
// convention; components publish only the topics declared here.
type Topic string

const (
	// TopicMemoryStored fires after a memory entry is committed.
	TopicMemoryStored Topic = "memory_stored"

	// TopicMemoryQuarantined fires when an entry is quarantined, including
	// rejected writes that are quarantined before commit.
	TopicMemoryQuarantined Topic = "memory_quarantined"

	// TopicMemoryDenied fires on an access-control denial.
	TopicMemoryDenied Topic = "memory_denied"

	// TopicSecurityEvent fires for every structured security event.
	TopicSecurityEvent Topic = "security_event"

	// TopicPlanReviewCompleted fires when a review pipeline reaches a
	// terminal or needs-revision state.
	TopicPlanReviewCompleted Topic = "plan_review_completed"

	// TopicHeartbeatStatusChanged fires on any component status transition.
	TopicHeartbeatStatusChanged Topic = "heartbeat_status_changed"

	// TopicHeartbeatFailure fires exactly once when a component crosses the
	// failure threshold into unhealthy.
	TopicHeartbeatFailure Topic = "heartbeat_failure"
)

// Handler receives a published payload. Handlers run synchronously on the
// publisher's goroutine and must not assume they run anywhere else.
type Handler func(payload any)

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus is a synchronous publish/subscribe dispatcher.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Topic][]*subscription
	logger *zap.Logger

	published atomic.Uint64
}

// New creates a Bus. A nil logger falls back to zap.NewNop().
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Topic][]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic and returns a function that
// removes exactly this registration. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(topic Topic, handler Handler) (unsubscribe func()) {
	return b.add(topic, handler, false)
}

// Once registers a handler that is removed after its first invocation.
// The returned function removes it earlier if it has not yet fired.
func (b *Bus) Once(topic Topic, handler Handler) (unsubscribe func()) {
	return b.add(topic, handler, true)
}

func (b *Bus) add(topic Topic, handler Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler, once: once}
	b.subs[topic] = append(b.subs[topic], sub)

	id := sub.id
	return func() { b.remove(topic, id) }
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches payload to all current subscribers of topic in
// registration order. The subscriber snapshot is taken before dispatch, so
// handlers that subscribe or unsubscribe during delivery do not affect this
// publication.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs[topic]))
	copy(snapshot, b.subs[topic])

	// Drop once-subscriptions before dispatch so a handler publishing the
	// same topic reentrantly cannot fire them twice.
	remaining := b.subs[topic][:0]
	for _, sub := range b.subs[topic] {
		if !sub.once {
			remaining = append(remaining, sub)
		}
	}
	b.subs[topic] = remaining
	b.mu.Unlock()

	b.published.Add(1)

	for _, sub := range snapshot {
		b.dispatch(topic, sub, payload)
	}
}

func (b *Bus) dispatch(topic Topic, sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", string(topic)),
				zap.Uint64("subscription_id", sub.id),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(payload)
}

// ListenerCount returns the number of current subscribers for a topic.
func (b *Bus) ListenerCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Published returns the total number of Publish calls, for diagnostics.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Clear removes all subscriptions on all topics.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Topic][]*subscription)
}
