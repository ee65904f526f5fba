package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gestureguard/internal/artifact"
	"gestureguard/internal/autoencoder"
	"gestureguard/internal/features"
	"gestureguard/internal/gesture"
	"gestureguard/internal/logging"
	"gestureguard/internal/metrics"
	"gestureguard/internal/normalize"
)

// Scorer loads profiles and scores records against them.
type Scorer struct {
	artifacts  artifact.Store
	flags      Flags
	signingKey []byte
	log        *logging.Logger
	metrics    *metrics.DetectorMetrics

	mu        sync.RWMutex
	threshold float64
}

// NewScorer wires a scorer. A nil logger or metrics set falls back to the defaults.
func NewScorer(artifacts artifact.Store, flags Flags, cfg Config, log *logging.Logger, m *metrics.DetectorMetrics) *Scorer {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Default()
	}
	if m == nil {
		m = metrics.NewDetectorMetrics(nil)
	}
	return &Scorer{
		artifacts:  artifacts,
		flags:      flags,
		signingKey: cfg.SigningKey,
		log:        log.WithComponent("scorer"),
		metrics:    m,
		threshold:  cfg.AnomalyThreshold,
	}
}

// Threshold returns the current anomaly threshold.
func (s *Scorer) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetThreshold replaces the anomaly threshold; non-positive values are ignored.
func (s *Scorer) SetThreshold(v float64) {
	if v <= 0 {
		return
	}
	s.mu.Lock()
	s.threshold = v
	s.mu.Unlock()
}

// IsTrained reports the persisted trained flag.
func (s *Scorer) IsTrained(ctx context.Context, userID string) (bool, error) {
	return s.flags.IsTrained(ctx, userID)
}

// LoadProfile returns the user's profile, or nil when the user is not trained
// or the artifact is missing or unreadable. Only storage failures on the flag
// lookup are returned as errors.
func (s *Scorer) LoadProfile(ctx context.Context, userID string) (*Profile, error) {
	log := s.log.WithUser(userID)

	trained, err := s.flags.IsTrained(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check trained flag: %w", err)
	}
	if !trained {
		return nil, nil
	}

	key := artifact.ModelKey(userID)
	data, err := s.artifacts.Load(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		log.Warn("trained flag set but no artifact found", "key", key)
		s.metrics.ProfileLoadFailures.Inc()
		return nil, nil
	}
	if err != nil {
		log.Error("artifact load failed", "key", key, "error", err)
		s.metrics.ProfileLoadFailures.Inc()
		return nil, nil
	}

	a, err := autoencoder.UnmarshalArtifact(data, s.signingKey)
	if err != nil {
		log.Error("artifact is corrupt", "key", key, "error", err)
		s.metrics.ProfileLoadFailures.Inc()
		return nil, nil
	}
	model, err := a.Model()
	if err != nil {
		log.Error("artifact cannot be rebuilt", "key", key, "error", err)
		s.metrics.ProfileLoadFailures.Inc()
		return nil, nil
	}
	if model.InputDim() != features.Dim {
		log.Error("artifact has wrong feature count", "have", model.InputDim(), "want", features.Dim)
		s.metrics.ProfileLoadFailures.Inc()
		return nil, nil
	}
	if a.Normalization == nil {
		log.Warn("artifact predates stored normalization, scoring will use per-record scaling")
	}

	return &Profile{
		UserID:    userID,
		Model:     model,
		Stats:     a.Normalization,
		Samples:   a.Samples,
		FinalLoss: a.FinalLoss,
		TrainedAt: a.TrainedAt,
	}, nil
}

// Detect scores rec against profile. Any failure, including a profile that
// belongs to someone other than userID, yields IsAnomaly=false with
// ReconstructionError=-1.
func (s *Scorer) Detect(profile *Profile, rec *gesture.Record, userID string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scoring panicked", "user", userID, "panic", r)
			res = failed()
		}
		s.metrics.RecordScore(time.Since(start), res.ReconstructionError, res.IsAnomaly)
	}()

	if profile == nil || profile.Model == nil {
		return failed()
	}
	if profile.UserID != userID {
		s.log.Warn("profile does not belong to the active user",
			"profile_user", profile.UserID, "user", userID)
		return failed()
	}

	vec, err := features.Extract(rec)
	if err != nil {
		s.log.Error("feature extraction failed", "user", userID, "error", err)
		return failed()
	}

	stats := profile.Stats
	if stats == nil {
		stats, err = normalize.Fit([][]float64{vec})
		if err != nil {
			return failed()
		}
	}
	row, err := stats.TransformRow(vec)
	if err != nil {
		s.log.Error("normalization failed", "user", userID, "error", err)
		return failed()
	}

	out, err := profile.Model.PredictRow(row)
	if err != nil {
		s.log.Error("prediction failed", "user", userID, "error", err)
		return failed()
	}
	mse, err := autoencoder.ReconstructionError(row, out)
	if err != nil {
		return failed()
	}
	if math.IsInf(mse, 0) || math.IsNaN(mse) {
		// Extreme inputs overflow the squared error; they are still anomalies.
		s.log.Warn("reconstruction error overflowed", "user", userID)
		mse = math.MaxFloat64
	}

	return Result{
		IsAnomaly:           mse > s.Threshold(),
		ReconstructionError: mse,
	}
}
