// ABOUTME: Tests for the per-conversation realtime channel registry
// ABOUTME: Covers open/close lifecycle, fan-out, slow subscribers, cancellation and watcher cleanup

package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/2389/directline-relay/internal/activity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeActivity(id string) *activity.Activity {
	return &activity.Activity{
		Type: activity.TypeMessage,
		ID:   id,
		Text: "hello from " + id,
	}
}

func mustSubscribe(t *testing.T, r *Registry, ctx context.Context, convID string) (<-chan *activity.Activity, string) {
	t.Helper()
	ch, subID, err := r.Subscribe(ctx, convID)
	require.NoError(t, err)
	return ch, subID
}

func TestRegistry_SubscribeRequiresOpenChannel(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()

	_, _, err := r.Subscribe(t.Context(), "conv-1")
	assert.ErrorIs(t, err, ErrChannelNotOpen)

	assert.True(t, r.Open("conv-1"))
	assert.False(t, r.Open("conv-1"), "second open reports existing channel")
	assert.True(t, r.IsOpen("conv-1"))

	_, _, err = r.Subscribe(t.Context(), "conv-1")
	assert.NoError(t, err)
}

func TestRegistry_SingleSubscriberReceivesActivity(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")

	ch, _ := mustSubscribe(t, r, t.Context(), "conv-1")

	n := r.Publish("conv-1", makeActivity("act-1"))
	assert.Equal(t, 1, n)

	select {
	case received := <-ch:
		assert.Equal(t, "act-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for activity")
	}
}

func TestRegistry_MultipleSubscribersReceiveSameActivity(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")

	ctx := t.Context()
	ch1, _ := mustSubscribe(t, r, ctx, "conv-1")
	ch2, _ := mustSubscribe(t, r, ctx, "conv-1")
	ch3, _ := mustSubscribe(t, r, ctx, "conv-1")
	assert.Equal(t, 3, r.Subscribers("conv-1"))

	r.Publish("conv-1", makeActivity("act-2"))

	for i, ch := range []<-chan *activity.Activity{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "act-2", received.ID, "subscriber %d got wrong activity", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestRegistry_ConversationsAreIsolated(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")
	r.Open("conv-2")

	ctx := t.Context()
	ch1, _ := mustSubscribe(t, r, ctx, "conv-1")
	ch2, _ := mustSubscribe(t, r, ctx, "conv-2")

	r.Publish("conv-1", makeActivity("act-3"))

	select {
	case received := <-ch1:
		assert.Equal(t, "act-3", received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for conv-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for conv-2 should not receive activities for conv-1")
	case <-time.After(100 * time.Millisecond):
		// Expected: nothing
	}
}

func TestRegistry_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")

	ctx := t.Context()

	// Subscribe but never read from the first channel
	_, _ = mustSubscribe(t, r, ctx, "conv-1")
	ch2, _ := mustSubscribe(t, r, ctx, "conv-1")

	done := make(chan struct{})
	go func() {
		for range 100 {
			r.Publish("conv-1", makeActivity("overflow"))
		}
		close(done)
	}()

	receivedCount := 0
	for {
		select {
		case <-ch2:
			receivedCount++
		case <-time.After(200 * time.Millisecond):
			goto drained
		}
	}
drained:
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	assert.Greater(t, receivedCount, 0, "fast subscriber should receive at least some activities")
}

func TestRegistry_ContextCancellationCleansUp(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := mustSubscribe(t, r, ctx, "conv-1")

	r.mu.RLock()
	_, exists := r.channels["conv-1"][subID]
	r.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	assert.Equal(t, 0, r.Subscribers("conv-1"))
	assert.True(t, r.IsOpen("conv-1"), "conversation channel outlives its subscribers")
}

func TestRegistry_ManualUnsubscribe(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")

	ch, subID := mustSubscribe(t, r, t.Context(), "conv-1")
	r.Unsubscribe("conv-1", subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing and unsubscribing again should not panic
	assert.Equal(t, 0, r.Publish("conv-1", makeActivity("after-unsub")))
	r.Unsubscribe("conv-1", subID)
}

func TestRegistry_CloseEndsSubscriptions(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")
	r.Open("conv-2")

	ctx := t.Context()
	ch1, subID := mustSubscribe(t, r, ctx, "conv-1")
	ch2, _ := mustSubscribe(t, r, ctx, "conv-2")

	r.Close("conv-1")
	assert.False(t, r.IsOpen("conv-1"))
	assert.True(t, r.IsOpen("conv-2"))

	select {
	case _, ok := <-ch1:
		assert.False(t, ok, "subscriber channel should be closed with its conversation")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}

	// Late cleanup from a subscriber and a second Close are harmless
	r.Unsubscribe("conv-1", subID)
	r.Close("conv-1")
	assert.Equal(t, 0, r.Publish("conv-1", makeActivity("gone")))

	r.Publish("conv-2", makeActivity("still-here"))
	select {
	case received := <-ch2:
		assert.Equal(t, "still-here", received.ID)
	case <-time.After(time.Second):
		t.Fatal("conv-2 subscriber timed out")
	}
}

func TestRegistry_CloseAllClosesEverything(t *testing.T) {
	r := NewRegistry(nil)
	r.Open("conv-1")
	r.Open("conv-2")

	ctx := t.Context()
	ch1, _ := mustSubscribe(t, r, ctx, "conv-1")
	ch2, _ := mustSubscribe(t, r, ctx, "conv-2")

	r.CloseAll()

	for i, ch := range []<-chan *activity.Activity{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after CloseAll()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after CloseAll()", i)
		}
	}
	assert.False(t, r.IsOpen("conv-1"))
}

// waitWatchers fails the test if subscription watchers are still running.
func waitWatchers(t *testing.T, r *Registry) {
	t.Helper()
	exited := make(chan struct{})
	go func() {
		r.watchers.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("subscription watcher still running after the subscription ended")
	}
}

func TestRegistry_EndedSubscriptionsReleaseWatchers(t *testing.T) {
	r := NewRegistry(nil)
	r.Open("conv-1")
	r.Open("conv-2")
	r.Open("conv-3")

	// Contexts that never end: only the registry can stop the watchers.
	ctx := context.Background()
	_, subID := mustSubscribe(t, r, ctx, "conv-1")
	mustSubscribe(t, r, ctx, "conv-2")
	mustSubscribe(t, r, ctx, "conv-3")

	r.Unsubscribe("conv-1", subID)
	r.Close("conv-2")
	r.CloseAll()

	waitWatchers(t, r)
}

func TestRegistry_ConcurrentPublishSubscribeClose(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-concurrent")

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _, err := r.Subscribe(ctx, "conv-concurrent")
			if err != nil {
				return
			}
			for range 5 {
				select {
				case _, ok := <-ch:
					if !ok {
						return
					}
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				r.Publish("conv-concurrent", makeActivity("concurrent"))
			}
		})
	}

	wg.Go(func() {
		time.Sleep(10 * time.Millisecond)
		r.Close("conv-concurrent")
		r.Open("conv-concurrent")
	})

	wg.Wait()
	r.CloseAll()
	waitWatchers(t, r)
}

func TestRegistry_SubscribeReturnsUniqueIDs(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()
	r.Open("conv-1")
	r.Open("conv-2")

	ctx := t.Context()
	_, id1 := mustSubscribe(t, r, ctx, "conv-1")
	_, id2 := mustSubscribe(t, r, ctx, "conv-1")
	_, id3 := mustSubscribe(t, r, ctx, "conv-2")

	require.NotEqual(t, id1, id2)
	require.NotEqual(t, id1, id3)
	require.NotEqual(t, id2, id3)
}

func TestRegistry_PublishToUnknownConversation(t *testing.T) {
	r := NewRegistry(nil)
	defer r.CloseAll()

	assert.Equal(t, 0, r.Publish("nobody-listening", makeActivity("nowhere")))
}
