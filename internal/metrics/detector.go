package metrics

import (
	"time"
)

// DetectorMetrics holds the metrics emitted by the gesture pipeline, the
// trainer and the re-authentication policy.
type DetectorMetrics struct {
	registry *Registry

	// Counters
	GesturesTotal       *Counter
	GesturesRejected    *Counter
	ScoresTotal         *Counter
	ScoreFailures       *Counter
	AnomaliesTotal      *Counter
	BiometricPrompts    *Counter
	ReloginPrompts      *Counter
	ReauthSuccesses     *Counter
	ReauthFailures      *Counter
	TrainingRunsTotal   *Counter
	TrainingFailures    *Counter
	TrainingSkipped     *Counter
	SessionsTotal       *Counter
	ProfileLoadFailures *Counter

	// Gauges
	TrainingInProgress *Gauge
	ActiveSessions     *Gauge
	CachedProfiles     *Gauge
	UptimeSeconds      *Gauge

	// Histograms
	ReconstructionError *Histogram
	ScoreDuration       *Histogram
	TrainingDuration    *Histogram
	TrainingSamples     *Histogram
}

// ErrorBuckets cover reconstruction errors around the 0.05 anomaly threshold
// and the 0.5 display ceiling.
var ErrorBuckets = []float64{
	0.001, 0.005, 0.01, 0.02, 0.03, 0.05, 0.075, 0.1, 0.15, 0.2, 0.3, 0.5, 1,
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewDetectorMetrics creates and registers all detector metrics.
func NewDetectorMetrics(registry *Registry) *DetectorMetrics {
	if registry == nil {
		registry = Default()
	}

	return &DetectorMetrics{
		registry: registry,

		GesturesTotal: registry.RegisterCounter(
			"gestures_total",
			"Total number of gesture records stored",
			nil,
		),
		GesturesRejected: registry.RegisterCounter(
			"gestures_rejected_total",
			"Gestures dropped before storage (unsettled screen, invalid record)",
			nil,
		),
		ScoresTotal: registry.RegisterCounter(
			"scores_total",
			"Total number of gestures scored against a profile",
			nil,
		),
		ScoreFailures: registry.RegisterCounter(
			"score_failures_total",
			"Scoring attempts that returned the failure sentinel",
			nil,
		),
		AnomaliesTotal: registry.RegisterCounter(
			"anomalies_total",
			"Gestures whose reconstruction error exceeded the anomaly threshold",
			nil,
		),
		BiometricPrompts: registry.RegisterCounter(
			"reauth_prompts_total",
			"Re-authentication prompts by requested action",
			Labels{"action": "biometric"},
		),
		ReloginPrompts: registry.RegisterCounter(
			"reauth_prompts_total",
			"Re-authentication prompts by requested action",
			Labels{"action": "relogin"},
		),
		ReauthSuccesses: registry.RegisterCounter(
			"reauth_completed_total",
			"Completed re-authentications by outcome",
			Labels{"result": "success"},
		),
		ReauthFailures: registry.RegisterCounter(
			"reauth_completed_total",
			"Completed re-authentications by outcome",
			Labels{"result": "failure"},
		),
		TrainingRunsTotal: registry.RegisterCounter(
			"training_runs_total",
			"Total number of training runs started",
			nil,
		),
		TrainingFailures: registry.RegisterCounter(
			"training_failures_total",
			"Training runs that did not produce a usable profile",
			nil,
		),
		TrainingSkipped: registry.RegisterCounter(
			"training_skipped_total",
			"Training triggers ignored because a run was in progress",
			nil,
		),
		SessionsTotal: registry.RegisterCounter(
			"sessions_total",
			"Total number of sessions opened",
			nil,
		),
		ProfileLoadFailures: registry.RegisterCounter(
			"profile_load_failures_total",
			"Profiles that could not be loaded for a trained user",
			nil,
		),

		TrainingInProgress: registry.RegisterGauge(
			"training_in_progress",
			"1 while a training run is executing",
			nil,
		),
		ActiveSessions: registry.RegisterGauge(
			"active_sessions",
			"Number of open monitoring sessions",
			nil,
		),
		CachedProfiles: registry.RegisterGauge(
			"cached_profiles",
			"Number of profiles held in memory",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Process uptime in seconds",
			nil,
		),

		ReconstructionError: registry.RegisterHistogram(
			"reconstruction_error",
			"Reconstruction error of scored gestures",
			nil,
			ErrorBuckets,
		),
		ScoreDuration: registry.RegisterHistogram(
			"score_duration_seconds",
			"Duration of a single scoring call in seconds",
			nil,
			DurationBuckets,
		),
		TrainingDuration: registry.RegisterHistogram(
			"training_duration_seconds",
			"Duration of training runs in seconds",
			nil,
			[]float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		),
		TrainingSamples: registry.RegisterHistogram(
			"training_samples",
			"Number of records used per training run",
			nil,
			[]float64{300, 500, 1000, 2500, 5000, 10000, 50000},
		),
	}
}

// RecordScore records one scoring call.
func (m *DetectorMetrics) RecordScore(duration time.Duration, reconstructionError float64, anomaly bool) {
	m.ScoresTotal.Inc()
	m.ScoreDuration.ObserveDuration(duration)
	if reconstructionError < 0 {
		m.ScoreFailures.Inc()
		return
	}
	m.ReconstructionError.Observe(reconstructionError)
	if anomaly {
		m.AnomaliesTotal.Inc()
	}
}

// RecordPrompt counts a re-authentication prompt by action type.
func (m *DetectorMetrics) RecordPrompt(actionType string) {
	if actionType == "biometric" {
		m.BiometricPrompts.Inc()
		return
	}
	m.ReloginPrompts.Inc()
}

// RecordReauth records the outcome of a prompt.
func (m *DetectorMetrics) RecordReauth(success bool) {
	if success {
		m.ReauthSuccesses.Inc()
		return
	}
	m.ReauthFailures.Inc()
}

// StartTraining marks a run as started and returns a timer for it.
func (m *DetectorMetrics) StartTraining() *HistogramTimer {
	m.TrainingRunsTotal.Inc()
	m.TrainingInProgress.Set(1)
	return m.TrainingDuration.Timer()
}

// FinishTraining stops timer and records the run's outcome.
func (m *DetectorMetrics) FinishTraining(timer *HistogramTimer, samples int, ok bool) {
	timer.Stop()
	m.TrainingInProgress.Set(0)
	if !ok {
		m.TrainingFailures.Inc()
		return
	}
	m.TrainingSamples.Observe(float64(samples))
}

// SessionStarted records a session start.
func (m *DetectorMetrics) SessionStarted() {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// SessionEnded records a session end.
func (m *DetectorMetrics) SessionEnded() {
	if m.ActiveSessions.Value() > 0 {
		m.ActiveSessions.Dec()
	}
}

// UpdateUptime updates the uptime metric.
func (m *DetectorMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *DetectorMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"gestures_total":           m.GesturesTotal.Value(),
		"gestures_rejected_total":  m.GesturesRejected.Value(),
		"scores_total":             m.ScoresTotal.Value(),
		"anomalies_total":          m.AnomaliesTotal.Value(),
		"reauth_prompts_total":     m.BiometricPrompts.Value() + m.ReloginPrompts.Value(),
		"training_runs_total":      m.TrainingRunsTotal.Value(),
		"training_failures_total":  m.TrainingFailures.Value(),
		"active_sessions":          m.ActiveSessions.Value(),
		"uptime_seconds":           m.UptimeSeconds.Value(),
		"reconstruction_error_avg": m.ReconstructionError.Mean(),
		"training_avg_seconds":     m.TrainingDuration.Mean(),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *DetectorMetrics) Registry() *Registry {
	return m.registry
}
