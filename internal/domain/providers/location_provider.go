package providers

import (
	"context"
)

// PermissionStatus is the platform's answer to a location permission request
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// Position is a single platform position fix
type Position struct {
	Latitude  float64
	Longitude float64
	// Accuracy is the horizontal accuracy in meters, nil when unknown
	Accuracy *float64
}

// LocationProvider wraps the platform geolocation capability
type LocationProvider interface {
	// RequestPermission asks for foreground location access
	RequestPermission(ctx context.Context) (PermissionStatus, error)

	// CurrentPosition requests a single best-effort position fix
	CurrentPosition(ctx context.Context) (*Position, error)
}
