package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

const defaultMaxPending = 100

// pendingQueue is the durable list of interactions not yet confirmed delivered. It is
// loaded lazily and written back after every mutation.
type pendingQueue struct {
	store    providers.KeyValueStore
	capacity int
	logger   zerolog.Logger

	mu     sync.Mutex
	loaded bool
	events []entities.InteractionEvent
}

func newPendingQueue(store providers.KeyValueStore, capacity int, logger zerolog.Logger) *pendingQueue {
	if capacity <= 0 {
		capacity = defaultMaxPending
	}
	return &pendingQueue{
		store:    store,
		capacity: capacity,
		logger:   logger,
	}
}

// loadLocked reads the persisted queue once. An unreadable queue is discarded.
func (q *pendingQueue) loadLocked(ctx context.Context) error {
	if q.loaded {
		return nil
	}

	data, err := q.store.Get(ctx, providers.StoreKeyPendingInteractions)
	if err != nil {
		if apperrors.IsNotFound(err) {
			q.loaded = true
			return nil
		}
		return fmt.Errorf("failed to load pending interactions: %w", err)
	}

	var events []entities.InteractionEvent
	if err := json.Unmarshal(data, &events); err != nil {
		q.logger.Warn().Err(err).Msg("Discarding unreadable pending interactions")
		events = nil
	}
	if len(events) > q.capacity {
		events = events[len(events)-q.capacity:]
	}
	q.events = events
	q.loaded = true
	return nil
}

func (q *pendingQueue) persistLocked(ctx context.Context) error {
	if len(q.events) == 0 {
		if err := q.store.Delete(ctx, providers.StoreKeyPendingInteractions); err != nil {
			return fmt.Errorf("failed to clear pending interactions: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(q.events)
	if err != nil {
		return fmt.Errorf("failed to encode pending interactions: %w", err)
	}
	if err := q.store.Set(ctx, providers.StoreKeyPendingInteractions, data); err != nil {
		return fmt.Errorf("failed to persist pending interactions: %w", err)
	}
	return nil
}

// Append adds event, dropping the oldest entries beyond capacity. It returns how many
// were dropped.
func (q *pendingQueue) Append(ctx context.Context, event entities.InteractionEvent) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return 0, err
	}

	q.events = append(q.events, event)
	dropped := 0
	if over := len(q.events) - q.capacity; over > 0 {
		dropped = over
		q.events = append([]entities.InteractionEvent(nil), q.events[over:]...)
	}
	return dropped, q.persistLocked(ctx)
}

// Remove deletes every queued event matching one of events. Events already absent are
// ignored, so overlapping senders may remove the same event.
func (q *pendingQueue) Remove(ctx context.Context, events ...entities.InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return err
	}

	kept := q.events[:0:0]
	for _, queued := range q.events {
		if !containsEvent(events, queued) {
			kept = append(kept, queued)
		}
	}
	if len(kept) == len(q.events) {
		return nil
	}
	q.events = kept
	return q.persistLocked(ctx)
}

// RemoveBefore deletes events stamped before cutoffMillis and returns how many went
func (q *pendingQueue) RemoveBefore(ctx context.Context, cutoffMillis int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return 0, err
	}

	kept := q.events[:0:0]
	for _, queued := range q.events {
		if queued.Timestamp >= cutoffMillis {
			kept = append(kept, queued)
		}
	}
	removed := len(q.events) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	q.events = kept
	return removed, q.persistLocked(ctx)
}

// Snapshot returns a copy of the queued events in order
func (q *pendingQueue) Snapshot(ctx context.Context) ([]entities.InteractionEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]entities.InteractionEvent, len(q.events))
	copy(out, q.events)
	return out, nil
}

// Len returns the number of queued events
func (q *pendingQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return 0, err
	}
	return len(q.events), nil
}

// Clear empties the queue
func (q *pendingQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = nil
	q.loaded = true
	return q.persistLocked(ctx)
}

func containsEvent(events []entities.InteractionEvent, target entities.InteractionEvent) bool {
	for _, e := range events {
		if e.SameAs(target) {
			return true
		}
	}
	return false
}
