package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gestureguard/internal/artifact"
	"gestureguard/internal/biometric"
	"gestureguard/internal/config"
	"gestureguard/internal/detector"
	"gestureguard/internal/guard"
	"gestureguard/internal/logging"
	"gestureguard/internal/metrics"
	"gestureguard/internal/policy"
	"gestureguard/internal/store"
)

// app holds the resources every command shares.
type app struct {
	cfg       *config.Config
	loader    *config.Loader
	log       *logging.Logger
	db        *store.Store
	artifacts artifact.Store
	metrics   *metrics.DetectorMetrics
}

// loadConfig reads --config, or the first config file found, and applies
// the global flag overrides.
func loadConfig() (*config.Loader, *config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return loader, cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	loader, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(log)

	if err := cfg.EnsureDirectories(); err != nil {
		log.Close()
		return nil, err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	arts, err := openArtifacts(ctx, cfg.Artifacts, db)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		loader:    loader,
		log:       log,
		db:        db,
		artifacts: arts,
		metrics:   metrics.NewDetectorMetrics(metrics.NewRegistry("gestureguard", "")),
	}, nil
}

func (a *app) Close() error {
	a.loader.Close()
	err := a.db.Close()
	a.log.Close()
	return err
}

func (a *app) monitor(prober biometric.Prober) (*guard.Monitor, error) {
	return guard.New(guard.Options{
		Store:          a.db,
		Artifacts:      a.artifacts,
		Biometrics:     prober,
		Detector:       detectorConfig(a.cfg),
		Policy:         policyConfig(a.cfg),
		SettleTime:     a.cfg.Capture.SettleTime(),
		ManualTraining: !a.cfg.Training.AutoTrain,
		Logger:         a.log,
		Metrics:        a.metrics,
	})
}

func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     lc.Output,
		FilePath:   lc.FilePath,
		MaxSize:    int64(lc.MaxSizeMB),
		MaxAge:     lc.MaxAgeDays,
		MaxBackups: lc.MaxBackups,
		Compress:   lc.Compress,
		Component:  "gestureguard",
	})
}

func detectorConfig(cfg *config.Config) detector.Config {
	dc := detector.Config{
		MinRecords:       cfg.Training.MinRecords,
		Epochs:           cfg.Training.Epochs,
		BatchSize:        cfg.Training.BatchSize,
		LearningRate:     cfg.Model.LearningRate,
		Seed:             cfg.Model.Seed,
		AnomalyThreshold: cfg.Detection.AnomalyThreshold,
	}
	if cfg.Artifacts.SigningKey != "" {
		dc.SigningKey = []byte(cfg.Artifacts.SigningKey)
	}
	return dc
}

func policyConfig(cfg *config.Config) policy.Config {
	return policy.Config{
		RequiredSessions: cfg.Training.RequiredSessions,
		ActionThreshold:  cfg.Detection.ActionThresholdPercent,
		Cooldown:         cfg.Detection.Cooldown(),
		DisplayCeiling:   cfg.Detection.DisplayCeiling,
		BiometricCeiling: cfg.Detection.BiometricCeiling,
	}
}

// openArtifacts selects the model artifact backend. The sqlite backend
// shares the gesture database.
func openArtifacts(ctx context.Context, ac config.ArtifactsConfig, db *store.Store) (artifact.Store, error) {
	switch ac.Backend {
	case "", "sqlite":
		return db, nil
	case "file":
		fs, err := artifact.NewFileStore(ac.Dir)
		if err != nil {
			return nil, fmt.Errorf("open artifact dir: %w", err)
		}
		return fs, nil
	case "s3":
		s3s, err := artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:   ac.S3.Bucket,
			Prefix:   ac.S3.Prefix,
			Region:   ac.S3.Region,
			Endpoint: ac.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 artifacts: %w", err)
		}
		return s3s, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", ac.Backend)
	}
}

// newProber builds the biometric availability probe. An unreachable
// fprintd falls back to reporting no biometrics.
func newProber(bc config.BiometricsConfig, log *logging.Logger) biometric.Prober {
	switch bc.Mode {
	case "static":
		return biometric.Static(bc.StaticAvailable)
	case "fprintd":
		ttl := time.Duration(bc.CacheTTLSec) * time.Second
		f, err := biometric.NewFprintd(bc.Username, ttl, log)
		if err != nil {
			log.Warn("fprintd unavailable, biometric prompts disabled", "error", err)
			return biometric.Static(false)
		}
		return f
	default:
		return biometric.Static(false)
	}
}

// deleteArtifact removes userID's model from backends other than the
// gesture database, which ClearUser already covers.
func (a *app) deleteArtifact(ctx context.Context, userID string) error {
	if _, shared := a.artifacts.(*store.Store); shared {
		return nil
	}
	err := a.artifacts.Delete(ctx, artifact.ModelKey(userID))
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}
