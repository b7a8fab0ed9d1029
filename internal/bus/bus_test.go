package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishOrder(t *testing.T) {
	b := New(zap.NewNop())

	var got []int
	b.Subscribe(TopicMemoryStored, func(any) { got = append(got, 1) })
	b.Subscribe(TopicMemoryStored, func(any) { got = append(got, 2) })
	b.Subscribe(TopicMemoryStored, func(any) { got = append(got, 3) })

	b.Publish(TopicMemoryStored, nil)

	assert.Equal(t, []int{1, 2, 3}, got, "handlers run in registration order")
}

func TestPanicIsolation(t *testing.T) {
	b := New(zap.NewNop())

	var after bool
	b.Subscribe(TopicSecurityEvent, func(any) { panic("boom") })
	b.Subscribe(TopicSecurityEvent, func(any) { after = true })

	assert.NotPanics(t, func() {
		b.Publish(TopicSecurityEvent, "payload")
	})
	assert.True(t, after, "handler after the panicking one still runs")
}

func TestUnsubscribe(t *testing.T) {
	b := New(zap.NewNop())

	var calls int
	unsub := b.Subscribe(TopicMemoryDenied, func(any) { calls++ })
	assert.Equal(t, 1, b.ListenerCount(TopicMemoryDenied))

	unsub()
	assert.Equal(t, 0, b.ListenerCount(TopicMemoryDenied))

	// Double unsubscribe is a no-op.
	unsub()

	b.Publish(TopicMemoryDenied, nil)
	assert.Equal(t, 0, calls)
}

func TestOnce(t *testing.T) {
	b := New(zap.NewNop())

	var calls int
	b.Once(TopicHeartbeatFailure, func(any) { calls++ })

	b.Publish(TopicHeartbeatFailure, nil)
	b.Publish(TopicHeartbeatFailure, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.ListenerCount(TopicHeartbeatFailure))
}

func TestOnceUnsubscribeBeforeFire(t *testing.T) {
	b := New(zap.NewNop())

	var calls int
	unsub := b.Once(TopicHeartbeatFailure, func(any) { calls++ })
	unsub()

	b.Publish(TopicHeartbeatFailure, nil)
	assert.Equal(t, 0, calls)
}

func TestTopicsIsolated(t *testing.T) {
	b := New(zap.NewNop())

	var stored, denied int
	b.Subscribe(TopicMemoryStored, func(any) { stored++ })
	b.Subscribe(TopicMemoryDenied, func(any) { denied++ })

	b.Publish(TopicMemoryStored, nil)

	assert.Equal(t, 1, stored)
	assert.Equal(t, 0, denied)
}

func TestSubscribeDuringDispatch(t *testing.T) {
	b := New(zap.NewNop())

	var lateCalls int
	b.Subscribe(TopicMemoryStored, func(any) {
		b.Subscribe(TopicMemoryStored, func(any) { lateCalls++ })
	})

	b.Publish(TopicMemoryStored, nil)
	assert.Equal(t, 0, lateCalls, "handler added during dispatch does not see this publication")

	b.Publish(TopicMemoryStored, nil)
	assert.Equal(t, 1, lateCalls)
}

func TestClear(t *testing.T) {
	b := New(zap.NewNop())

	b.Subscribe(TopicMemoryStored, func(any) {})
	b.Subscribe(TopicSecurityEvent, func(any) {})
	b.Clear()

	assert.Equal(t, 0, b.ListenerCount(TopicMemoryStored))
	assert.Equal(t, 0, b.ListenerCount(TopicSecurityEvent))
}

func TestPayloadDelivery(t *testing.T) {
	b := New(zap.NewNop())

	var got any
	b.Subscribe(TopicPlanReviewCompleted, func(p any) { got = p })

	type result struct{ PlanID string }
	b.Publish(TopicPlanReviewCompleted, result{PlanID: "p-1"})

	assert.Equal(t, result{PlanID: "p-1"}, got)
	assert.Equal(t, uint64(1), b.Published())
}
