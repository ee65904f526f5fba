package store

import "time"

// UserSummary is the per-user view used by status reporting.
type UserSummary struct {
	UserID            string
	Gestures          int
	CompletedSessions int
	Trained           bool
}

// ReauthEvent records one re-authentication prompt and, once known, its outcome.
type ReauthEvent struct {
	ID                  int64
	UserID              string
	SessionID           string
	ActionType          string
	RiskPercentage      int
	ReconstructionError float64
	PromptedAt          time.Time
	CompletedAt         *time.Time
	Success             *bool
}
