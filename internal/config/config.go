// Package config handles configuration loading, validation, and management for gestureguard.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete service configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configuration for the gesture database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Artifacts configuration for trained model persistence.
	Artifacts ArtifactsConfig `toml:"artifacts" json:"artifacts" yaml:"artifacts"`

	// Model hyperparameters.
	Model ModelConfig `toml:"model" json:"model" yaml:"model"`

	// Training gates.
	Training TrainingConfig `toml:"training" json:"training" yaml:"training"`

	// Detection thresholds. Hot-reloadable.
	Detection DetectionConfig `toml:"detection" json:"detection" yaml:"detection"`

	// Capture configuration for gesture recording.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Biometrics configuration for challenge availability.
	Biometrics BiometricsConfig `toml:"biometrics" json:"biometrics" yaml:"biometrics"`

	// Server configuration for the HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex
}

// StorageConfig holds gesture database configuration.
type StorageConfig struct {
	// Path is the SQLite database path.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// ArtifactsConfig selects where trained models are kept.
type ArtifactsConfig struct {
	// Backend is "sqlite", "file" or "s3".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Dir is the artifact directory for the file backend.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// S3 holds bucket settings for the s3 backend.
	S3 S3Config `toml:"s3" json:"s3" yaml:"s3"`

	// SigningKey keys the artifact checksum. Empty means an unkeyed digest.
	SigningKey string `toml:"signing_key" json:"signing_key" yaml:"signing_key"`
}

// S3Config holds S3-compatible object store settings.
type S3Config struct {
	Bucket   string `toml:"bucket" json:"bucket" yaml:"bucket"`
	Prefix   string `toml:"prefix" json:"prefix" yaml:"prefix"`
	Region   string `toml:"region" json:"region" yaml:"region"`
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`
}

// ModelConfig holds autoencoder hyperparameters.
type ModelConfig struct {
	// LearningRate for the Adam optimizer.
	LearningRate float64 `toml:"learning_rate" json:"learning_rate" yaml:"learning_rate"`

	// Seed for weight init and shuffling. Zero draws from the clock.
	Seed int64 `toml:"seed" json:"seed" yaml:"seed"`
}

// TrainingConfig holds the training gates.
type TrainingConfig struct {
	// MinRecords is the minimum number of records needed to train.
	MinRecords int `toml:"min_records" json:"min_records" yaml:"min_records"`

	// Epochs of full-batch passes.
	Epochs int `toml:"epochs" json:"epochs" yaml:"epochs"`

	// BatchSize for mini-batch gradient descent.
	BatchSize int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`

	// RequiredSessions completed before automatic training.
	RequiredSessions int `toml:"required_sessions" json:"required_sessions" yaml:"required_sessions"`

	// AutoTrain runs training during session setup once enough sessions exist.
	AutoTrain bool `toml:"auto_train" json:"auto_train" yaml:"auto_train"`
}

// DetectionConfig holds scoring and re-authentication thresholds.
type DetectionConfig struct {
	// AnomalyThreshold is the reconstruction error above which a record is anomalous.
	AnomalyThreshold float64 `toml:"anomaly_threshold" json:"anomaly_threshold" yaml:"anomaly_threshold"`

	// ActionThresholdPercent is the minimum risk percentage that prompts.
	ActionThresholdPercent float64 `toml:"action_threshold_percent" json:"action_threshold_percent" yaml:"action_threshold_percent"`

	// CooldownSec is the minimum gap between prompts.
	CooldownSec int `toml:"cooldown_sec" json:"cooldown_sec" yaml:"cooldown_sec"`

	// DisplayCeiling is the error mapped to 100% risk.
	DisplayCeiling float64 `toml:"display_ceiling" json:"display_ceiling" yaml:"display_ceiling"`

	// BiometricCeiling is the highest error for which biometrics are offered.
	BiometricCeiling float64 `toml:"biometric_ceiling" json:"biometric_ceiling" yaml:"biometric_ceiling"`
}

// Cooldown returns CooldownSec as a duration.
func (d DetectionConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownSec) * time.Second
}

// CaptureConfig holds gesture capture settings.
type CaptureConfig struct {
	// SettleTimeMs is how long a screen must be shown before gestures count.
	SettleTimeMs int `toml:"settle_time_ms" json:"settle_time_ms" yaml:"settle_time_ms"`
}

// SettleTime returns SettleTimeMs as a duration.
func (c CaptureConfig) SettleTime() time.Duration {
	return time.Duration(c.SettleTimeMs) * time.Millisecond
}

// BiometricsConfig selects the biometric availability probe.
type BiometricsConfig struct {
	// Mode is "fprintd", "static" or "none".
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// StaticAvailable is the answer of the static probe.
	StaticAvailable bool `toml:"static_available" json:"static_available" yaml:"static_available"`

	// Username whose enrolled fingers are checked. Empty means the current user.
	Username string `toml:"username" json:"username" yaml:"username"`

	// CacheTTLSec is how long a probe answer is reused.
	CacheTTLSec int `toml:"cache_ttl_sec" json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	ReadTimeoutSec     int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec    int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", "both" or "discard".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Storage: StorageConfig{
			Path: filepath.Join(dir, "gestures.db"),
		},
		Artifacts: ArtifactsConfig{
			Backend: "sqlite",
			Dir:     filepath.Join(dir, "models"),
			S3: S3Config{
				Prefix: "gestureguard",
			},
		},
		Model: ModelConfig{
			LearningRate: 0.001,
		},
		Training: TrainingConfig{
			MinRecords:       300,
			Epochs:           40,
			BatchSize:        32,
			RequiredSessions: 6,
			AutoTrain:        true,
		},
		Detection: DetectionConfig{
			AnomalyThreshold:       0.05,
			ActionThresholdPercent: 30,
			CooldownSec:            10,
			DisplayCeiling:         0.5,
			BiometricCeiling:       0.3,
		},
		Capture: CaptureConfig{
			SettleTimeMs: 3000,
		},
		Biometrics: BiometricsConfig{
			Mode:        "fprintd",
			CacheTTLSec: 30,
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:7420",
			ReadTimeoutSec:     15,
			WriteTimeoutSec:    30,
			ShutdownTimeoutSec: 10,
			MaxBodyBytes:       1 << 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "gestureguard.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the service.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
	}
	if c.Artifacts.Backend == "file" {
		dirs = append(dirs, c.Artifacts.Dir)
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DataDir returns the base gestureguard directory.
// Uses platform-specific paths or GESTUREGUARD_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("GESTUREGUARD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with GESTUREGUARD_ and use underscores.
// Unparseable numeric values are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Storage overrides
	if v := os.Getenv("GESTUREGUARD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	// Artifact overrides
	if v := os.Getenv("GESTUREGUARD_ARTIFACT_BACKEND"); v != "" {
		c.Artifacts.Backend = v
	}
	if v := os.Getenv("GESTUREGUARD_ARTIFACT_DIR"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv("GESTUREGUARD_S3_BUCKET"); v != "" {
		c.Artifacts.S3.Bucket = v
	}
	if v := os.Getenv("GESTUREGUARD_S3_ENDPOINT"); v != "" {
		c.Artifacts.S3.Endpoint = v
	}
	// Keep the signing key out of config files where possible.
	if v := os.Getenv("GESTUREGUARD_SIGNING_KEY"); v != "" {
		c.Artifacts.SigningKey = v
	}

	// Detection overrides
	if v, ok := envFloat("GESTUREGUARD_ANOMALY_THRESHOLD"); ok {
		c.Detection.AnomalyThreshold = v
	}
	if v, ok := envInt("GESTUREGUARD_COOLDOWN_SEC"); ok {
		c.Detection.CooldownSec = v
	}

	// Training overrides
	if v, ok := envInt("GESTUREGUARD_MIN_RECORDS"); ok {
		c.Training.MinRecords = v
	}

	// Biometrics
	if v := os.Getenv("GESTUREGUARD_BIOMETRICS_MODE"); v != "" {
		c.Biometrics.Mode = v
	}

	// Server
	if v := os.Getenv("GESTUREGUARD_ADDR"); v != "" {
		c.Server.Addr = v
	}

	// Logging overrides
	if v := os.Getenv("GESTUREGUARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GESTUREGUARD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("GESTUREGUARD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:    c.Version,
		Storage:    c.Storage,
		Artifacts:  c.Artifacts,
		Model:      c.Model,
		Training:   c.Training,
		Detection:  c.Detection,
		Capture:    c.Capture,
		Biometrics: c.Biometrics,
		Server:     c.Server,
		Logging:    c.Logging,
	}
}

// SaveConfig saves the configuration to a file, choosing the encoding by
// extension (TOML by default).
func SaveConfig(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// The file may carry the artifact signing key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
