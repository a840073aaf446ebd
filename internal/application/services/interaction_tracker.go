package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
	"github.com/localdirectory/telemetry-core/pkg/clock"
	"github.com/localdirectory/telemetry-core/pkg/config"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

const (
	defaultBatchSize     = 10
	defaultFlushInterval = 3 * time.Minute
	defaultLoginCooldown = 2 * time.Minute
	defaultStartupGrace  = 5 * time.Second
	defaultSource        = "mobile"
)

// Drop reasons reported on the interactions.dropped metric
const (
	dropReasonInvalidBusinessID = "invalid_business_id"
	dropReasonInvalidAction     = "invalid_action"
	dropReasonInvalidEvent      = "invalid_event"
	dropReasonUnauthenticated   = "unauthenticated"
	dropReasonLoginCooldown     = "login_cooldown"
	dropReasonQueueFull         = "queue_full"
	dropReasonClientError       = "client_error"
)

// CoordinatesResolver supplies the coordinates attached to outgoing payloads
type CoordinatesResolver interface {
	CoordinatesForAPI() entities.Coordinates
}

// InteractionTracker batches interactions, persists them until the API acknowledges them
// and retries failed sends on the next flush.
type InteractionTracker struct {
	sender   providers.InteractionSender
	auth     providers.AuthProvider
	location CoordinatesResolver
	queue    *pendingQueue
	session  entities.Session
	clock    clock.Clock
	metrics  *observability.Metrics
	logger   zerolog.Logger

	batchSize        int
	maxPending       int
	flushInterval    time.Duration
	loginCooldown    time.Duration
	startupGrace     time.Duration
	highPriority     map[entities.InteractionAction]struct{}
	source           string
	dropClientErrors bool

	mu         sync.Mutex
	buffer     []entities.InteractionEvent
	inFlight   []entities.InteractionEvent
	flushTimer clock.Timer
	graceTimer clock.Timer
	started    bool
	stopped    bool

	// flushMu is held for the whole of a batch send
	flushMu sync.Mutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewInteractionTracker creates a tracker. metrics may be nil.
func NewInteractionTracker(
	sender providers.InteractionSender,
	auth providers.AuthProvider,
	location CoordinatesResolver,
	store providers.KeyValueStore,
	cfg config.TrackingConfig,
	clk clock.Clock,
	metrics *observability.Metrics,
) *InteractionTracker {
	if clk == nil {
		clk = clock.New()
	}
	logger := observability.GetLogger().With().Str("component", "interaction_tracker").Logger()

	t := &InteractionTracker{
		sender:           sender,
		auth:             auth,
		location:         location,
		queue:            newPendingQueue(store, cfg.MaxPending, logger),
		session:          entities.NewSession(cfg.Platform, clk.Now()),
		clock:            clk,
		metrics:          metrics,
		logger:           logger,
		batchSize:        cfg.BatchSize,
		maxPending:       cfg.MaxPending,
		flushInterval:    cfg.FlushInterval,
		loginCooldown:    cfg.LoginCooldown,
		startupGrace:     cfg.StartupGrace,
		highPriority:     make(map[entities.InteractionAction]struct{}),
		source:           cfg.Source,
		dropClientErrors: cfg.DropClientErrors,
	}
	if t.batchSize <= 0 {
		t.batchSize = defaultBatchSize
	}
	if t.maxPending <= 0 {
		t.maxPending = defaultMaxPending
	}
	if t.flushInterval <= 0 {
		t.flushInterval = defaultFlushInterval
	}
	if t.loginCooldown <= 0 {
		t.loginCooldown = defaultLoginCooldown
	}
	if t.startupGrace <= 0 {
		t.startupGrace = defaultStartupGrace
	}
	if t.source == "" {
		t.source = defaultSource
	}

	actions := cfg.HighPriority
	if actions == nil {
		for _, a := range entities.DefaultHighPriorityActions {
			actions = append(actions, string(a))
		}
	}
	for _, name := range actions {
		action, err := entities.ParseInteractionAction(name)
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring unknown high priority action")
			continue
		}
		t.highPriority[action] = struct{}{}
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// SessionID returns the id attached to every interaction tracked by this process
func (t *InteractionTracker) SessionID() string {
	return t.session.ID
}

// Track records an interaction. Invalid or ungated interactions are logged and dropped;
// network work runs in the background, so Track never blocks on the API.
func (t *InteractionTracker) Track(ctx context.Context, businessID interface{}, action entities.InteractionAction, attrs map[string]interface{}) {
	id, ok := entities.ParseBusinessID(businessID)
	if !ok {
		t.logger.Warn().Interface("business_id", businessID).Str("action", string(action)).Msg("Rejecting interaction with invalid business id")
		observability.RecordInteractionDropped(ctx, t.metrics, dropReasonInvalidBusinessID, 1)
		return
	}
	if !action.IsKnown() {
		t.logger.Warn().Int64("business_id", id).Str("action", string(action)).Msg("Rejecting interaction with unknown action")
		observability.RecordInteractionDropped(ctx, t.metrics, dropReasonInvalidAction, 1)
		return
	}
	if reason, ok := t.gate(ctx); !ok {
		t.logger.Debug().Int64("business_id", id).Str("action", string(action)).Str("reason", reason).Msg("Interaction held by auth gate")
		observability.RecordInteractionDropped(ctx, t.metrics, reason, 1)
		return
	}

	event := entities.NewInteractionEvent(id, action, t.session.Merge(attrs), t.clock.Now())

	// persisted before any send so a crash cannot lose it
	dropped, err := t.queue.Append(ctx, event)
	if err != nil {
		t.logger.Error().Err(err).Int64("business_id", id).Msg("Failed to persist interaction")
	}
	observability.RecordInteractionDropped(ctx, t.metrics, dropReasonQueueFull, dropped)
	observability.RecordInteractionTracked(ctx, t.metrics, string(action))

	if _, ok := t.highPriority[action]; ok {
		t.mu.Lock()
		t.inFlight = append(t.inFlight, event)
		t.mu.Unlock()
		if !t.dispatch(func(ctx context.Context) {
			t.sendImmediate(ctx, event)
		}) {
			t.settle([]entities.InteractionEvent{event})
		}
		return
	}

	t.mu.Lock()
	t.buffer = t.appendCappedLocked(t.buffer, event)
	full := len(t.buffer) >= t.batchSize
	var batch []entities.InteractionEvent
	if full {
		batch = t.takeBatchLocked()
	}
	t.mu.Unlock()

	if full && !t.dispatch(func(ctx context.Context) {
		_ = t.sendBatch(ctx, batch)
	}) {
		t.settle(batch)
	}
}

// Flush sends everything buffered as one batch. Failed events go back to the buffer.
func (t *InteractionTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.takeBatchLocked()
	t.mu.Unlock()

	return t.sendBatch(ctx, batch)
}

// ClearPending empties the persistent queue and the in-memory batch
func (t *InteractionTracker) ClearPending(ctx context.Context) error {
	t.mu.Lock()
	t.buffer = nil
	t.mu.Unlock()

	if err := t.queue.Clear(ctx); err != nil {
		return err
	}
	t.logger.Info().Msg("Cleared pending interactions")
	return nil
}

// PendingCount returns the number of persisted, unacknowledged interactions
func (t *InteractionTracker) PendingCount(ctx context.Context) int {
	n, err := t.queue.Len(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to read pending interactions")
	}
	return n
}

// BufferedCount returns the number of interactions waiting for the next batch
func (t *InteractionTracker) BufferedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// Start clears interactions persisted before today, starts the periodic flush and
// schedules a replay of the persisted queue after the startup grace delay.
func (t *InteractionTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return fmt.Errorf("interaction tracker stopped")
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	now := t.clock.Now()
	year, month, day := now.Date()
	startOfDay := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	removed, err := t.queue.RemoveBefore(ctx, startOfDay.UnixMilli())
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to clear stale interactions")
	} else if removed > 0 {
		t.logger.Info().Int("count", removed).Msg("Cleared interactions from a previous session")
	}

	t.mu.Lock()
	if !t.stopped {
		t.flushTimer = t.clock.AfterFunc(t.flushInterval, t.onFlushTimer)
		t.graceTimer = t.clock.AfterFunc(t.startupGrace, t.onGraceTimer)
	}
	t.mu.Unlock()

	t.logger.Info().
		Str("session_id", t.session.ID).
		Int("batch_size", t.batchSize).
		Dur("flush_interval", t.flushInterval).
		Msg("Interaction tracker started")
	return nil
}

// Wait blocks until background sends started by the tracker have finished
func (t *InteractionTracker) Wait() {
	t.wg.Wait()
}

// Stop cancels the timers and waits for in-flight sends until ctx is done, then cancels
// them. Buffered events stay in the persistent queue for the next start.
func (t *InteractionTracker) Stop(ctx context.Context) {
	t.mu.Lock()
	t.stopped = true
	if t.flushTimer != nil {
		t.flushTimer.Stop()
		t.flushTimer = nil
	}
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn().Msg("Cancelling in-flight interaction sends")
	}
	t.cancel()
	<-done
	t.logger.Info().Msg("Interaction tracker stopped")
}

func (t *InteractionTracker) onFlushTimer() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.flushTimer = t.clock.AfterFunc(t.flushInterval, t.onFlushTimer)
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	if err := t.Flush(t.ctx); err != nil {
		t.logger.Debug().Err(err).Msg("Periodic flush failed")
	}
}

func (t *InteractionTracker) onGraceTimer() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.graceTimer = nil
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	t.replay(t.ctx)
}

// dispatch runs fn on a tracked goroutine bound to the tracker lifetime. It reports
// false when the tracker is stopped and fn will not run.
func (t *InteractionTracker) dispatch(fn func(ctx context.Context)) bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		fn(t.ctx)
	}()
	return true
}

// gate reports whether interactions may be tracked right now, with the hold reason
// when they may not
func (t *InteractionTracker) gate(ctx context.Context) (string, bool) {
	if t.auth == nil {
		return dropReasonUnauthenticated, false
	}
	session, ok := t.auth.Current(ctx)
	if !ok || session == nil {
		return dropReasonUnauthenticated, false
	}
	if session.AuthenticatedFor(t.clock.Now()) < t.loginCooldown {
		return dropReasonLoginCooldown, false
	}
	return "", true
}

// takeBatchLocked empties the buffer. The returned events count as in flight until
// settle is called for them.
func (t *InteractionTracker) takeBatchLocked() []entities.InteractionEvent {
	batch := t.buffer
	t.buffer = nil
	t.inFlight = append(t.inFlight, batch...)
	return batch
}

// settle releases one in-flight entry per event. An event requeued and taken again
// before its first send settles holds two entries.
func (t *InteractionTracker) settle(events []entities.InteractionEvent) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, event := range events {
		for i, queued := range t.inFlight {
			if queued.SameAs(event) {
				t.inFlight = append(t.inFlight[:i:i], t.inFlight[i+1:]...)
				break
			}
		}
	}
}

// withoutInFlight drops events that a batch or immediate send already owns
func (t *InteractionTracker) withoutInFlight(events []entities.InteractionEvent) []entities.InteractionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.inFlight) == 0 {
		return events
	}
	kept := events[:0:0]
	for _, event := range events {
		if !containsEvent(t.inFlight, event) {
			kept = append(kept, event)
		}
	}
	return kept
}

// appendCappedLocked appends events and drops the oldest beyond maxPending
func (t *InteractionTracker) appendCappedLocked(buffer []entities.InteractionEvent, events ...entities.InteractionEvent) []entities.InteractionEvent {
	buffer = append(buffer, events...)
	if over := len(buffer) - t.maxPending; over > 0 {
		buffer = append([]entities.InteractionEvent(nil), buffer[over:]...)
	}
	return buffer
}

// requeue puts a failed batch back in front of anything buffered since it was taken
func (t *InteractionTracker) requeue(events []entities.InteractionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make([]entities.InteractionEvent, 0, len(events)+len(t.buffer))
	merged = append(merged, events...)
	t.buffer = t.appendCappedLocked(merged, t.buffer...)
}

// validate splits out structurally invalid events, logging each one
func (t *InteractionTracker) validate(ctx context.Context, events []entities.InteractionEvent) (valid, invalid []entities.InteractionEvent) {
	for _, event := range events {
		if err := event.Validate(); err != nil {
			t.logger.Warn().Err(err).Int64("business_id", event.BusinessID).Str("action", string(event.Action)).Msg("Dropping invalid interaction")
			invalid = append(invalid, event)
			continue
		}
		valid = append(valid, event)
	}
	observability.RecordInteractionDropped(ctx, t.metrics, dropReasonInvalidEvent, len(invalid))
	return valid, invalid
}

func (t *InteractionTracker) sendBatch(ctx context.Context, batch []entities.InteractionEvent) error {
	defer t.settle(batch)
	if len(batch) == 0 {
		return nil
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	if reason, ok := t.gate(ctx); !ok {
		t.logger.Info().Int("count", len(batch)).Str("reason", reason).Msg("Discarding batch, auth gate closed")
		if err := t.queue.Remove(ctx, batch...); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to remove discarded interactions")
		}
		observability.RecordInteractionDropped(ctx, t.metrics, reason, len(batch))
		return nil
	}

	valid, invalid := t.validate(ctx, batch)
	if err := t.queue.Remove(ctx, invalid...); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to remove invalid interactions")
	}
	if len(valid) == 0 {
		return nil
	}

	err := t.postBatch(ctx, valid)
	if err == nil {
		if err := t.queue.Remove(ctx, valid...); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to remove delivered interactions")
		}
		t.logger.Debug().Int("count", len(valid)).Msg("Flushed interactions")
		return nil
	}

	if t.dropClientErrors && apperrors.IsClientError(err) {
		t.logger.Error().Err(err).Int("count", len(valid)).Msg("Batch rejected by API, dropping")
		if rmErr := t.queue.Remove(ctx, valid...); rmErr != nil {
			t.logger.Warn().Err(rmErr).Msg("Failed to remove rejected interactions")
		}
		observability.RecordInteractionDropped(ctx, t.metrics, dropReasonClientError, len(valid))
		return fmt.Errorf("failed to flush interactions: %w", err)
	}

	t.requeue(valid)
	t.logger.Warn().Err(err).Int("count", len(valid)).Msg("Flush failed, interactions kept for retry")
	return fmt.Errorf("failed to flush interactions: %w", err)
}

func (t *InteractionTracker) postBatch(ctx context.Context, events []entities.InteractionEvent) error {
	ctx, span := observability.StartSpan(ctx, "interactions.flush")
	defer span.End()
	span.SetAttributes(attribute.Int("interactions.count", len(events)))

	coords := t.location.CoordinatesForAPI()
	payload := entities.BatchPayload{
		UserLatitude:  coords.Latitude,
		UserLongitude: coords.Longitude,
		Source:        t.source,
		Interactions:  events,
	}

	start := time.Now()
	err := t.sender.SendBatch(ctx, payload)
	observability.RecordFlush(ctx, t.metrics, "batch", len(events), time.Since(start), err)
	observability.RecordError(span, err)
	return err
}

func (t *InteractionTracker) sendImmediate(ctx context.Context, event entities.InteractionEvent) {
	defer t.settle([]entities.InteractionEvent{event})

	ctx, span := observability.StartSpan(ctx, "interactions.send_immediate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("business.id", event.BusinessID),
		attribute.String("interaction.action", string(event.Action)),
	)

	payload := entities.NewInteractionPayload(event, t.location.CoordinatesForAPI(), t.source)

	start := time.Now()
	err := t.sender.SendInteraction(ctx, payload)
	observability.RecordFlush(ctx, t.metrics, "immediate", 1, time.Since(start), err)

	if err == nil {
		if err := t.queue.Remove(ctx, event); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to remove delivered interaction")
		}
		t.logger.Debug().Int64("business_id", event.BusinessID).Str("action", string(event.Action)).Msg("Sent high priority interaction")
		return
	}
	observability.RecordError(span, err)

	if t.dropClientErrors && apperrors.IsClientError(err) {
		t.logger.Error().Err(err).Int64("business_id", event.BusinessID).Msg("Interaction rejected by API, dropping")
		if rmErr := t.queue.Remove(ctx, event); rmErr != nil {
			t.logger.Warn().Err(rmErr).Msg("Failed to remove rejected interaction")
		}
		observability.RecordInteractionDropped(ctx, t.metrics, dropReasonClientError, 1)
		return
	}

	t.mu.Lock()
	t.buffer = t.appendCappedLocked(t.buffer, event)
	t.mu.Unlock()
	t.logger.Warn().Err(err).Int64("business_id", event.BusinessID).Msg("High priority send failed, interaction queued for next flush")
}

// replay sends the persisted queue in batches, stopping at the first failure. Events
// left in the queue stay persisted for a later attempt.
func (t *InteractionTracker) replay(ctx context.Context) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	pending, err := t.queue.Snapshot(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to load pending interactions for replay")
		return
	}
	pending = t.withoutInFlight(pending)
	if len(pending) == 0 {
		return
	}
	if reason, ok := t.gate(ctx); !ok {
		t.logger.Debug().Int("count", len(pending)).Str("reason", reason).Msg("Replay held by auth gate")
		return
	}

	t.logger.Info().Int("count", len(pending)).Msg("Replaying pending interactions")
	sent := 0
	for start := 0; start < len(pending); start += t.batchSize {
		end := start + t.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		valid, invalid := t.validate(ctx, pending[start:end])
		if err := t.queue.Remove(ctx, invalid...); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to remove invalid interactions")
		}
		if len(valid) == 0 {
			continue
		}

		if err := t.postBatch(ctx, valid); err != nil {
			t.logger.Warn().Err(err).Int("sent", sent).Int("remaining", len(pending)-start).Msg("Replay stopped, remaining interactions kept")
			return
		}
		if err := t.queue.Remove(ctx, valid...); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to remove replayed interactions")
		}
		t.forgetBuffered(valid)
		sent += len(valid)
	}
	t.logger.Info().Int("sent", sent).Msg("Replay complete")
}

// forgetBuffered drops delivered events from the in-memory batch
func (t *InteractionTracker) forgetBuffered(delivered []entities.InteractionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.buffer[:0:0]
	for _, event := range t.buffer {
		if !containsEvent(delivered, event) {
			kept = append(kept, event)
		}
	}
	t.buffer = kept
}
