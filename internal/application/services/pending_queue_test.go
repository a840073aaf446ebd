package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdirectory/telemetry-core/internal/adapters/store"
	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
)

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, f.err
}

func queueEvent(id int64, at time.Time) entities.InteractionEvent {
	return entities.NewInteractionEvent(id, entities.ActionView, map[string]interface{}{entities.ContextKeySessionID: "s1"}, at)
}

func TestPendingQueue_PersistsEveryMutation(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	q := newPendingQueue(kv, 100, zerolog.Nop())
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	_, err := q.Append(ctx, queueEvent(1, now))
	require.NoError(t, err)
	_, err = q.Append(ctx, queueEvent(2, now))
	require.NoError(t, err)

	reloaded := newPendingQueue(kv, 100, zerolog.Nop())
	events, err := reloaded.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].BusinessID)
	assert.Equal(t, int64(2), events[1].BusinessID)

	require.NoError(t, q.Remove(ctx, queueEvent(1, now)))
	reloaded = newPendingQueue(kv, 100, zerolog.Nop())
	n, err := reloaded.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPendingQueue_CapacityDropsOldest(t *testing.T) {
	ctx := context.Background()
	q := newPendingQueue(store.NewMemoryStore(), 3, zerolog.Nop())
	now := time.Now()

	total := 0
	for i := int64(1); i <= 5; i++ {
		dropped, err := q.Append(ctx, queueEvent(i, now))
		require.NoError(t, err)
		total += dropped
	}

	events, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].BusinessID)
	assert.Equal(t, int64(5), events[2].BusinessID)
}

func TestPendingQueue_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	q := newPendingQueue(kv, 100, zerolog.Nop())
	now := time.Now()

	event := queueEvent(7, now)
	_, err := q.Append(ctx, event)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, event))
	require.NoError(t, q.Remove(ctx, event))
	require.NoError(t, q.Remove(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = kv.Get(ctx, providers.StoreKeyPendingInteractions)
	assert.Error(t, err)
}

func TestPendingQueue_RemoveMatchesByValue(t *testing.T) {
	ctx := context.Background()
	q := newPendingQueue(store.NewMemoryStore(), 100, zerolog.Nop())
	now := time.Now()

	_, err := q.Append(ctx, queueEvent(7, now))
	require.NoError(t, err)

	otherSession := entities.NewInteractionEvent(7, entities.ActionView, map[string]interface{}{entities.ContextKeySessionID: "s2"}, now)
	require.NoError(t, q.Remove(ctx, otherSession))
	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n)

	decoded := queueEvent(7, now)
	decoded.Context = map[string]interface{}{entities.ContextKeySessionID: "s1", "extra": true}
	require.NoError(t, q.Remove(ctx, decoded))
	n, _ = q.Len(ctx)
	assert.Zero(t, n)
}

func TestPendingQueue_RemoveBefore(t *testing.T) {
	ctx := context.Background()
	q := newPendingQueue(store.NewMemoryStore(), 100, zerolog.Nop())
	cutoff := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, _ = q.Append(ctx, queueEvent(1, cutoff.Add(-time.Hour)))
	_, _ = q.Append(ctx, queueEvent(2, cutoff))
	_, _ = q.Append(ctx, queueEvent(3, cutoff.Add(time.Hour)))

	removed, err := q.RemoveBefore(ctx, cutoff.UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	events, _ := q.Snapshot(ctx)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].BusinessID)
}

func TestPendingQueue_CorruptDataIsDiscarded(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, providers.StoreKeyPendingInteractions, []byte("not json")))

	q := newPendingQueue(kv, 100, zerolog.Nop())
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = q.Append(ctx, queueEvent(1, time.Now()))
	require.NoError(t, err)

	data, err := kv.Get(ctx, providers.StoreKeyPendingInteractions)
	require.NoError(t, err)
	var events []entities.InteractionEvent
	require.NoError(t, json.Unmarshal(data, &events))
	assert.Len(t, events, 1)
}

func TestPendingQueue_StoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	q := newPendingQueue(&failingStore{MemoryStore: store.NewMemoryStore(), err: errors.New("disk full")}, 100, zerolog.Nop())

	_, err := q.Append(ctx, queueEvent(1, time.Now()))
	assert.ErrorContains(t, err, "disk full")

	_, err = q.Snapshot(ctx)
	assert.Error(t, err)
}

func TestPendingQueue_ClearDeletesKey(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	q := newPendingQueue(kv, 100, zerolog.Nop())

	_, _ = q.Append(ctx, queueEvent(1, time.Now()))
	require.NoError(t, q.Clear(ctx))

	assert.Empty(t, kv.Keys())
}
