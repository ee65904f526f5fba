package guard

import (
	"time"

	"gestureguard/internal/detector"
	"gestureguard/internal/gesture"
	"gestureguard/internal/policy"
)

// SetupStatus is the outcome of preparing detection for a session.
type SetupStatus string

const (
	StatusCollecting       SetupStatus = "collecting"
	StatusInsufficientData SetupStatus = "insufficient_data"
	StatusTrained          SetupStatus = "trained"
	StatusAlreadyTrained   SetupStatus = "already_trained"
	StatusTrainingFailed   SetupStatus = "training_failed"
	StatusTrainingSkipped  SetupStatus = "training_skipped"
	StatusModelUnavailable SetupStatus = "model_unavailable"
)

// Ready reports whether the status leaves a profile loaded for scoring.
func (s SetupStatus) Ready() bool {
	return s == StatusTrained || s == StatusAlreadyTrained
}

// SetupResult describes what Setup or Train did.
type SetupResult struct {
	Status            SetupStatus    `json:"status"`
	Message           string         `json:"message"`
	SessionNumber     int            `json:"session_number,omitempty"`
	CompletedSessions int            `json:"completed_sessions"`
	RequiredSessions  int            `json:"required_sessions,omitempty"`
	Records           int            `json:"records,omitempty"`
	RequiredRecords   int            `json:"required_records"`
	Prompt            *policy.Prompt `json:"prompt,omitempty"`
}

// Outcome is the result of logging one gesture.
type Outcome struct {
	ID        int64            `json:"id"`
	Record    gesture.Record   `json:"record"`
	Evaluated bool             `json:"evaluated"`
	Result    *detector.Result `json:"result,omitempty"`
	Prompt    *policy.Prompt   `json:"prompt,omitempty"`
}

// ReauthOutcome is the result of completing a prompt.
type ReauthOutcome struct {
	Prompt    policy.Prompt `json:"prompt"`
	Success   bool          `json:"success"`
	LoggedOut bool          `json:"logged_out"`
}

// UserStatus summarises one user's stored state.
type UserStatus struct {
	UserID             string         `json:"user_id"`
	Gestures           int            `json:"gestures"`
	CompletedSessions  int            `json:"completed_sessions"`
	RequiredSessions   int            `json:"required_sessions"`
	RequiredRecords    int            `json:"required_records"`
	MinRecordsHint     int            `json:"min_records_hint"`
	Trained            bool           `json:"trained"`
	TrainingInProgress bool           `json:"training_in_progress"`
	ProfileLoaded      bool           `json:"profile_loaded"`
	Samples            int            `json:"samples,omitempty"`
	FinalLoss          float64        `json:"final_loss,omitempty"`
	TrainedAt          *time.Time     `json:"trained_at,omitempty"`
	Active             bool           `json:"active"`
	SessionID          string         `json:"session_id,omitempty"`
	SessionNumber      int            `json:"session_number,omitempty"`
	State              policy.State   `json:"state,omitempty"`
	PendingPrompt      *policy.Prompt `json:"pending_prompt,omitempty"`
}
