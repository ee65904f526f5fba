package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// ErrInvalidConfig matches any validation failure via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// maxSigningKeyBytes is the BLAKE2b key size limit.
const maxSigningKeyBytes = 64

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// problems accumulates validation failures.
type problems ValidationErrors

// check records msg against field unless ok holds.
func (p *problems) check(ok bool, field, format string, args ...any) {
	if !ok {
		*p = append(*p, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

// oneOf requires value to be one of allowed.
func (p *problems) oneOf(field, value string, allowed ...string) {
	p.check(slices.Contains(allowed, value), field,
		"invalid value %q (valid: %s)", value, strings.Join(allowed, ", "))
}

// ValidateConfig checks every section and reports all failures together.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var p problems
	p.check(c.Version >= 1 && c.Version <= Version, "version",
		"unsupported version %d (current: %d)", c.Version, Version)
	p.check(c.Storage.Path != "", "storage.path", "required field is missing")

	a := c.Artifacts
	p.oneOf("artifacts.backend", a.Backend, "sqlite", "file", "s3")
	switch a.Backend {
	case "file":
		p.check(a.Dir != "", "artifacts.dir", "directory is required when backend is 'file'")
	case "s3":
		p.check(a.S3.Bucket != "", "artifacts.s3.bucket", "bucket is required when backend is 's3'")
		p.check(a.S3.Endpoint == "" || isHTTPURL(a.S3.Endpoint), "artifacts.s3.endpoint",
			"invalid endpoint URL: %s", a.S3.Endpoint)
	}
	p.check(len(a.SigningKey) <= maxSigningKeyBytes, "artifacts.signing_key",
		"signing key must be at most %d bytes", maxSigningKeyBytes)

	p.check(c.Model.LearningRate > 0 && c.Model.LearningRate <= 1, "model.learning_rate",
		"must be in (0, 1]")

	t := c.Training
	p.check(t.MinRecords >= 1, "training.min_records", "must be at least 1")
	p.check(t.Epochs >= 1, "training.epochs", "must be at least 1")
	p.check(t.BatchSize >= 1, "training.batch_size", "must be at least 1")
	p.check(t.RequiredSessions >= 1, "training.required_sessions", "must be at least 1")

	d := c.Detection
	p.check(d.AnomalyThreshold > 0, "detection.anomaly_threshold", "must be positive")
	p.check(d.ActionThresholdPercent > 0 && d.ActionThresholdPercent <= 100,
		"detection.action_threshold_percent", "must be in (0, 100]")
	p.check(d.CooldownSec >= 0, "detection.cooldown_sec", "cannot be negative")
	p.check(d.DisplayCeiling > 0, "detection.display_ceiling", "must be positive")
	p.check(d.BiometricCeiling > 0, "detection.biometric_ceiling", "must be positive")

	p.check(c.Capture.SettleTimeMs >= 0, "capture.settle_time_ms", "cannot be negative")

	p.oneOf("biometrics.mode", c.Biometrics.Mode, "fprintd", "static", "none")
	p.check(c.Biometrics.CacheTTLSec >= 0, "biometrics.cache_ttl_sec", "cannot be negative")

	s := c.Server
	_, _, err := net.SplitHostPort(s.Addr)
	p.check(err == nil, "server.addr", "invalid listen address %q: %v", s.Addr, err)
	p.check(s.ReadTimeoutSec >= 0 && s.WriteTimeoutSec >= 0 && s.ShutdownTimeoutSec >= 0,
		"server", "timeouts cannot be negative")
	p.check(s.MaxBodyBytes >= 0, "server.max_body_bytes", "cannot be negative")

	l := c.Logging
	p.oneOf("logging.level", l.Level, "debug", "info", "warn", "error")
	p.oneOf("logging.format", l.Format, "text", "json")
	p.oneOf("logging.output", l.Output, "stdout", "stderr", "file", "both", "discard")
	if l.Output == "file" || l.Output == "both" {
		p.check(l.FilePath != "", "logging.file_path", "file path is required when output writes to a file")
	}
	p.check(l.MaxSizeMB >= 1, "logging.max_size_mb", "must be at least 1 MB")
	p.check(l.MaxBackups >= 0, "logging.max_backups", "cannot be negative")
	p.check(l.MaxAgeDays >= 0, "logging.max_age_days", "cannot be negative")

	if len(p) > 0 {
		return ValidationErrors(p)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
