package providers

import (
	"context"
)

// Keys used in the persistent key-value store
const (
	StoreKeyCachedLocation      = "cached_user_location"
	StoreKeyLastLocationUpdate  = "last_location_update"
	StoreKeyPendingInteractions = "pending_interactions"
	StoreKeyAuthSession         = "auth_session"
)

// KeyValueStore defines durable string-keyed storage. Implementations return an
// errors.ErrorTypeNotFound AppError from Get when the key is absent.
type KeyValueStore interface {
	// Get retrieves the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
