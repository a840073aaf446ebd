package entities

import (
	"time"

	"github.com/google/uuid"
)

// Context keys the pipeline adds to every interaction
const (
	ContextKeySessionID = "session_id"
	ContextKeyPlatform  = "platform"
)

// Session identifies one process lifetime
type Session struct {
	ID        string
	Platform  string
	StartedAt time.Time
}

// NewSession creates a session with a fresh random id
func NewSession(platform string, now time.Time) Session {
	return Session{
		ID:        uuid.NewString(),
		Platform:  platform,
		StartedAt: now,
	}
}

// Merge copies context and adds the session fields. Caller-provided keys are kept as is
// except the session id, which always reflects this session.
func (s Session) Merge(context map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(context)+2)
	for k, v := range context {
		merged[k] = v
	}
	merged[ContextKeySessionID] = s.ID
	if _, ok := merged[ContextKeyPlatform]; !ok && s.Platform != "" {
		merged[ContextKeyPlatform] = s.Platform
	}
	return merged
}

// AuthSession is the signed-in identity used to gate tracking
type AuthSession struct {
	Token      string    `json:"token"`
	UserID     string    `json:"user_id"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// AuthenticatedFor returns how long the session has been signed in at now
func (a AuthSession) AuthenticatedFor(now time.Time) time.Duration {
	return now.Sub(a.LoggedInAt)
}
