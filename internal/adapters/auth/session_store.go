package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

// SessionStore holds the signed-in identity. When backed by a KeyValueStore the
// session survives restarts under providers.StoreKeyAuthSession.
type SessionStore struct {
	mu      sync.RWMutex
	session *entities.AuthSession
	store   providers.KeyValueStore
}

// NewSessionStore creates a session store. store may be nil for an in-process session.
func NewSessionStore(store providers.KeyValueStore) *SessionStore {
	return &SessionStore{store: store}
}

// Restore loads a persisted session, if any
func (s *SessionStore) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	data, err := s.store.Get(ctx, providers.StoreKeyAuthSession)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load auth session: %w", err)
	}

	var session entities.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid persisted auth session: %v", err))
	}

	s.mu.Lock()
	s.session = &session
	s.mu.Unlock()
	return nil
}

// Login installs a session signed in at loggedInAt
func (s *SessionStore) Login(ctx context.Context, token, userID string, loggedInAt time.Time) error {
	session := &entities.AuthSession{
		Token:      token,
		UserID:     userID,
		LoggedInAt: loggedInAt,
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal auth session: %w", err)
	}
	if err := s.store.Set(ctx, providers.StoreKeyAuthSession, data); err != nil {
		return fmt.Errorf("failed to persist auth session: %w", err)
	}
	return nil
}

// Logout clears the session
func (s *SessionStore) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, providers.StoreKeyAuthSession); err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// Current returns a copy of the active session
func (s *SessionStore) Current(ctx context.Context) (*entities.AuthSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, false
	}
	session := *s.session
	return &session, true
}

// Token returns the bearer token of the active session, empty when signed out
func (s *SessionStore) Token() string {
	session, ok := s.Current(context.Background())
	if !ok {
		return ""
	}
	return session.Token
}
