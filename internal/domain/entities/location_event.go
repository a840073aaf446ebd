package entities

import (
	"time"

	"github.com/google/uuid"
)

// LocationChangedSourceManual marks events caused by a manual override
const LocationChangedSourceManual = "manual"

// LocationChangedEvent announces a change of the effective location to other processes
type LocationChangedEvent struct {
	ID           string      `json:"id"`
	// Origin identifies the publishing process
	Origin       string      `json:"origin,omitempty"`
	Coordinates  Coordinates `json:"coordinates"`
	Source       string      `json:"source"`
	OverrideName string      `json:"override_name,omitempty"`
	Division     string      `json:"division,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// NewLocationChangedEvent creates an event for the given effective location
func NewLocationChangedEvent(coords Coordinates, source string, now time.Time) *LocationChangedEvent {
	return &LocationChangedEvent{
		ID:          uuid.NewString(),
		Coordinates: coords,
		Source:      source,
		OccurredAt:  now,
	}
}
