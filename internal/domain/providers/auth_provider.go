package providers

import (
	"context"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
)

// AuthProvider exposes the current signed-in identity
type AuthProvider interface {
	// Current returns the active session, or false when nobody is signed in
	Current(ctx context.Context) (*entities.AuthSession, bool)
}
