package entities

import (
	"time"
)

// LocationSource describes where a LocationRecord came from
type LocationSource string

const (
	// LocationSourceGPS is a fresh platform position fix
	LocationSourceGPS LocationSource = "gps"
	// LocationSourceCache is a record restored from persistent storage
	LocationSourceCache LocationSource = "cache"
	// LocationSourceDefault is a synthesized fallback record
	LocationSourceDefault LocationSource = "default"
)

// Coordinates represents geographical coordinates
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationRecord is a cached location. Records are values: replace them, never mutate one
// that has been handed out.
type LocationRecord struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Accuracy  *float64       `json:"accuracy,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Source    LocationSource `json:"source"`
}

// NewLocationRecord builds a record stamped at now
func NewLocationRecord(coords Coordinates, accuracy *float64, source LocationSource, now time.Time) LocationRecord {
	record := LocationRecord{
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
		Timestamp: now.UnixMilli(),
		Source:    source,
	}
	if accuracy != nil {
		acc := *accuracy
		record.Accuracy = &acc
	}
	return record
}

// Coordinates returns the record's coordinate pair
func (r LocationRecord) Coordinates() Coordinates {
	return Coordinates{Latitude: r.Latitude, Longitude: r.Longitude}
}

// Time returns the record creation time
func (r LocationRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Age returns how old the record is at now
func (r LocationRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.Time())
}

// IsValid reports whether the record is younger than ttl. Records stamped in the future
// are never valid.
func (r LocationRecord) IsValid(now time.Time, ttl time.Duration) bool {
	if r.Timestamp <= 0 || r.Timestamp > now.UnixMilli() {
		return false
	}
	return r.Age(now) < ttl
}

// WithSource returns a copy of the record carrying a different source
func (r LocationRecord) WithSource(source LocationSource) LocationRecord {
	out := r
	if r.Accuracy != nil {
		acc := *r.Accuracy
		out.Accuracy = &acc
	}
	out.Source = source
	return out
}

// ManualOverride is a user-selected location that wins over any GPS record until cleared
type ManualOverride struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Division  string  `json:"division,omitempty"`
}

// Coordinates returns the override's coordinate pair
func (m ManualOverride) Coordinates() Coordinates {
	return Coordinates{Latitude: m.Latitude, Longitude: m.Longitude}
}

// LocationUpdateResult is returned by an explicit user-requested update
type LocationUpdateResult struct {
	Success  bool            `json:"success"`
	Location *LocationRecord `json:"location,omitempty"`
	Message  string          `json:"message"`
}
