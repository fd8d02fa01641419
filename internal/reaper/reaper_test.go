// ABOUTME: Tests for idle conversation eviction
// ABOUTME: Uses the memory store, a real channel registry and a pinned clock

package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/directline-relay/internal/activity"
	"github.com/2389/directline-relay/internal/realtime"
	"github.com/2389/directline-relay/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, st store.Store, id string, lastSeen ...time.Time) {
	t.Helper()
	conv := store.Conversation{ConversationID: id, History: []*activity.Activity{}}
	for i, ts := range lastSeen {
		conv.History = append(conv.History, &activity.Activity{
			Type:           activity.TypeMessage,
			ID:             id + "-" + string(rune('a'+i)),
			LocalTimestamp: ts.Format(time.RFC3339Nano),
		})
	}
	require.NoError(t, st.SetConversation(t.Context(), id, conv))
}

func newTestReaper(t *testing.T, threshold time.Duration) (*Reaper, *store.MemoryStore, *realtime.Registry) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := realtime.NewRegistry(nil)
	t.Cleanup(reg.CloseAll)

	r := New(st, reg, Config{Interval: 10 * time.Millisecond, Threshold: threshold}, nil)
	r.now = func() time.Time { return now }
	return r, st, reg
}

func TestRunOnce_EvictsOnlyIdleConversations(t *testing.T) {
	r, st, reg := newTestReaper(t, 30*time.Minute)
	ctx := t.Context()

	seed(t, st, "stale", now.Add(-2*time.Hour), now.Add(-31*time.Minute))
	seed(t, st, "fresh", now.Add(-2*time.Hour), now.Add(-time.Minute))
	seed(t, st, "empty")
	reg.Open("stale")
	reg.Open("fresh")

	evicted, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	keys, err := st.ListConversationKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "fresh"}, keys)

	assert.False(t, reg.IsOpen("stale"))
	assert.True(t, reg.IsOpen("fresh"))
}

func TestRunOnce_UsesLastEntryNotFirst(t *testing.T) {
	r, st, _ := newTestReaper(t, 30*time.Minute)

	// First entry is ancient; the last one keeps the conversation alive.
	seed(t, st, "c1", now.Add(-24*time.Hour), now.Add(-5*time.Minute))

	evicted, err := r.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestRunOnce_FallsBackToTimestamp(t *testing.T) {
	r, st, _ := newTestReaper(t, time.Minute)
	conv := store.Conversation{
		ConversationID: "c1",
		History: []*activity.Activity{{
			Type:      activity.TypeMessage,
			Timestamp: now.Add(-time.Hour).Format(time.RFC3339Nano),
		}},
	}
	require.NoError(t, st.SetConversation(t.Context(), "c1", conv))

	evicted, err := r.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
}

func TestRunOnce_UnparseableTimestampIsKept(t *testing.T) {
	r, st, _ := newTestReaper(t, time.Minute)
	conv := store.Conversation{
		ConversationID: "c1",
		History:        []*activity.Activity{{Type: activity.TypeMessage, LocalTimestamp: "yesterday"}},
	}
	require.NoError(t, st.SetConversation(t.Context(), "c1", conv))

	evicted, err := r.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

type listFailingStore struct {
	*store.MemoryStore
}

func (listFailingStore) ListConversationKeys(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestRunOnce_ListFailure(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	r := New(listFailingStore{store.NewMemoryStore()}, reg, Config{}, nil)

	_, err := r.RunOnce(t.Context())
	assert.ErrorContains(t, err, "listing conversations")
}

func TestStartStop_EvictsInBackground(t *testing.T) {
	r, st, reg := newTestReaper(t, time.Minute)
	seed(t, st, "stale", now.Add(-time.Hour))
	reg.Open("stale")

	r.Start(t.Context())
	r.Start(t.Context())
	defer r.Stop()

	require.Eventually(t, func() bool {
		conv, err := st.GetConversation(context.Background(), "stale")
		return err == nil && !conv.Exists()
	}, time.Second, 5*time.Millisecond)
	assert.False(t, reg.IsOpen("stale"))
}

func TestStop_Idempotent(t *testing.T) {
	r, _, _ := newTestReaper(t, time.Minute)
	r.Stop()

	r.Start(t.Context())
	r.Stop()
	r.Stop()
}

func TestNew_Defaults(t *testing.T) {
	r := New(store.NewMemoryStore(), realtime.NewRegistry(nil), Config{}, nil)
	assert.Equal(t, DefaultInterval, r.cfg.Interval)
	assert.Equal(t, DefaultThreshold, r.cfg.Threshold)
}
