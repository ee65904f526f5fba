package gesture

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionContext identifies the active user and session. It is passed
// explicitly to every capture call instead of living in process globals.
type SessionContext struct {
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	SessionID     string    `json:"session_id"`
	SessionNumber int       `json:"session_number"`
	StartedAt     time.Time `json:"started_at"`
	DeviceModel   string    `json:"device_model,omitempty"`
}

// NewSessionContext opens session number n for userID.
func NewSessionContext(userID, displayName string, n int, startedAt time.Time) SessionContext {
	return SessionContext{
		UserID:        userID,
		DisplayName:   displayName,
		SessionID:     fmt.Sprintf("%s_%d_%s", userID, n, uuid.NewString()),
		SessionNumber: n,
		StartedAt:     startedAt,
	}
}

// Valid reports whether the context names a user and a session.
func (sc SessionContext) Valid() bool {
	return sc.UserID != "" && sc.SessionID != "" && sc.SessionNumber > 0
}
