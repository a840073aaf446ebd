package geolocation

import (
	"context"

	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

// StaticProvider implements a fixed-position location provider for headless agents and tests
type StaticProvider struct {
	granted  bool
	position providers.Position
}

// NewStaticProvider creates a provider that always reports the same fix
func NewStaticProvider(granted bool, latitude, longitude, accuracy float64) *StaticProvider {
	p := &StaticProvider{
		granted: granted,
		position: providers.Position{
			Latitude:  latitude,
			Longitude: longitude,
		},
	}
	if accuracy > 0 {
		p.position.Accuracy = &accuracy
	}
	return p
}

// RequestPermission reports the configured permission
func (p *StaticProvider) RequestPermission(ctx context.Context) (providers.PermissionStatus, error) {
	if p.granted {
		return providers.PermissionGranted, nil
	}
	return providers.PermissionDenied, nil
}

// CurrentPosition returns the configured fix
func (p *StaticProvider) CurrentPosition(ctx context.Context) (*providers.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.granted {
		return nil, apperrors.NewPermissionError("location permission denied")
	}
	position := p.position
	return &position, nil
}
