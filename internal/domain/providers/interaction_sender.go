package providers

import (
	"context"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
)

// InteractionSender delivers interactions to the tracking API. A nil error means the
// server acknowledged the payload.
type InteractionSender interface {
	// SendInteraction posts a single interaction
	SendInteraction(ctx context.Context, payload entities.InteractionPayload) error

	// SendBatch posts a batch of interactions
	SendBatch(ctx context.Context, payload entities.BatchPayload) error
}
