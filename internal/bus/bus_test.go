package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndConsumeInbound(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "cli", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Content)
}

func TestConsumeInboundReturnsFalseOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := b.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestPublishAndSubscribeOutbound(t *testing.T) {
	b := New()
	b.PublishOutbound(OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "telegram", msg.Channel)
}

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var gotA, gotB Event
	b.Subscribe("a", func(ev Event) { gotA = ev })
	b.Subscribe("b", func(ev Event) { gotB = ev })

	b.Broadcast(Event{Name: "mind_wakeup"})

	assert.Equal(t, "mind_wakeup", gotA.Name)
	assert.Equal(t, "mind_wakeup", gotB.Name)
	assert.Equal(t, 2, b.SubscriberCount())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	called := false
	b.Subscribe("a", func(ev Event) { called = true })
	b.Unsubscribe("a")
	b.Broadcast(Event{Name: "x"})
	assert.False(t, called)
	assert.Equal(t, 0, b.SubscriberCount())
}
