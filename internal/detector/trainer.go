package detector

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"

	"gestureguard/internal/artifact"
	"gestureguard/internal/autoencoder"
	"gestureguard/internal/features"
	"gestureguard/internal/gesture"
	"gestureguard/internal/logging"
	"gestureguard/internal/metrics"
	"gestureguard/internal/normalize"
)

// Trainer fits a fresh profile on a user's full record history.
type Trainer struct {
	artifacts artifact.Store
	flags     Flags
	cfg       Config
	log       *logging.Logger
	metrics   *metrics.DetectorMetrics
}

// NewTrainer wires a trainer. A nil logger or metrics set falls back to the defaults.
func NewTrainer(artifacts artifact.Store, flags Flags, cfg Config, log *logging.Logger, m *metrics.DetectorMetrics) *Trainer {
	if log == nil {
		log = logging.Default()
	}
	if m == nil {
		m = metrics.NewDetectorMetrics(nil)
	}
	return &Trainer{
		artifacts: artifacts,
		flags:     flags,
		cfg:       cfg.withDefaults(),
		log:       log.WithComponent("trainer"),
		metrics:   m,
	}
}

// MinRecords returns the training gate.
func (t *Trainer) MinRecords() int {
	return t.cfg.MinRecords
}

// Train builds and persists a profile for userID. It returns false without
// writing anything when there are too few records, and false when any step
// fails. On success the artifact is saved before the trained flag is set.
func (t *Trainer) Train(ctx context.Context, records []gesture.Record, userID string) bool {
	log := t.log.WithUser(userID)

	owned := records[:0:0]
	for i := range records {
		if records[i].UserID != "" && records[i].UserID != userID {
			continue
		}
		owned = append(owned, records[i])
	}
	if dropped := len(records) - len(owned); dropped > 0 {
		log.Warn("ignoring records of other users", "dropped", dropped)
	}

	if len(owned) < t.cfg.MinRecords {
		log.Info("collecting more data before training",
			"records", len(owned), "required", t.cfg.MinRecords)
		return false
	}

	timer := t.metrics.StartTraining()
	ok := false
	defer func() { t.metrics.FinishTraining(timer, len(owned), ok) }()

	start := time.Now()
	rows, err := features.ExtractBatch(owned)
	if err != nil {
		log.Error("feature extraction failed", "error", err)
		return false
	}

	normalized, stats, err := normalize.FitTransform(rows)
	if err != nil {
		log.Error("normalization failed", "error", err)
		return false
	}
	x := toDense(normalized)

	opts := []autoencoder.Option{autoencoder.WithLearningRate(t.cfg.LearningRate)}
	if t.cfg.Seed != 0 {
		opts = append(opts, autoencoder.WithSeed(t.cfg.Seed))
	}
	model, err := autoencoder.New(features.Dim, opts...)
	if err != nil {
		log.Error("model construction failed", "error", err)
		return false
	}

	hist, err := model.Fit(ctx, x, autoencoder.FitConfig{
		Epochs:    t.cfg.Epochs,
		BatchSize: t.cfg.BatchSize,
		Shuffle:   true,
		OnEpochEnd: func(epoch int, loss float64) {
			log.Debug("epoch complete", "epoch", epoch+1, "loss", loss)
		},
	})
	if err != nil {
		log.Error("training failed", "error", err)
		return false
	}

	a := autoencoder.NewArtifact(model, userID, stats, len(owned), hist.FinalLoss())
	a.Features = append([]string(nil), features.Names...)
	data, err := a.Marshal(t.cfg.SigningKey)
	if err != nil {
		log.Error("artifact encoding failed", "error", err)
		return false
	}

	key := artifact.ModelKey(userID)
	if err := t.artifacts.Save(ctx, key, data); err != nil {
		log.Error("artifact save failed", "key", key, "error", err)
		return false
	}

	if err := t.flags.SetTrained(ctx, userID, true); err != nil {
		log.Error("trained flag write failed, removing artifact", "error", err)
		if derr := t.artifacts.Delete(context.WithoutCancel(ctx), key); derr != nil {
			log.Warn("artifact rollback failed", "key", key, "error", derr)
		}
		return false
	}

	ok = true
	log.Info("profile trained",
		slog.Int("samples", len(owned)),
		slog.Float64("final_loss", hist.FinalLoss()),
		slog.Duration("elapsed", time.Since(start)))
	return true
}

func toDense(rows [][]float64) *mat.Dense {
	d := len(rows[0])
	data := make([]float64, 0, len(rows)*d)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), d, data)
}
