// Package detector trains per-user autoencoder profiles from gesture records
// and scores new records against them.
package detector

import (
	"context"
	"time"

	"gestureguard/internal/autoencoder"
	"gestureguard/internal/normalize"
)

// Defaults for training and scoring.
const (
	// MinRecords is the functional training gate.
	MinRecords = 300
	// InformationalMinRecords is the figure shown to users while collecting.
	InformationalMinRecords = 100
	// AnomalyThreshold is the reconstruction error above which a record is anomalous.
	AnomalyThreshold = 0.05
	// FailedScore is the reconstruction error reported when scoring could not run.
	FailedScore = -1
)

// Flags persists the per-user trained flag.
type Flags interface {
	IsTrained(ctx context.Context, userID string) (bool, error)
	SetTrained(ctx context.Context, userID string, trained bool) error
}

// Config tunes training and scoring.
type Config struct {
	MinRecords       int
	Epochs           int
	BatchSize        int
	LearningRate     float64
	Seed             int64 // 0 draws a seed from the clock
	AnomalyThreshold float64
	SigningKey       []byte
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MinRecords:       MinRecords,
		Epochs:           autoencoder.DefaultEpochs,
		BatchSize:        autoencoder.DefaultBatchSize,
		LearningRate:     autoencoder.DefaultLearningRate,
		AnomalyThreshold: AnomalyThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinRecords <= 0 {
		c.MinRecords = d.MinRecords
	}
	if c.Epochs <= 0 {
		c.Epochs = d.Epochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = d.AnomalyThreshold
	}
	return c
}

// Profile is a loaded, ready-to-score model for one user.
type Profile struct {
	UserID    string
	Model     *autoencoder.Model
	Stats     *normalize.Stats // nil for artifacts written before stats were persisted
	Samples   int
	FinalLoss float64
	TrainedAt time.Time
}

// Result is the outcome of scoring one record.
type Result struct {
	IsAnomaly           bool    `json:"is_anomaly"`
	ReconstructionError float64 `json:"reconstruction_error"`
}

// Failed reports whether scoring could not run.
func (r Result) Failed() bool {
	return r.ReconstructionError < 0
}

func failed() Result {
	return Result{IsAnomaly: false, ReconstructionError: FailedScore}
}
