// Package guard runs behavioral monitoring for the active identity: it
// records gestures, trains the profile once enough sessions exist, scores
// live gestures and drives the re-authentication policy.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gestureguard/internal/artifact"
	"gestureguard/internal/biometric"
	"gestureguard/internal/config"
	"gestureguard/internal/detector"
	"gestureguard/internal/gesture"
	"gestureguard/internal/logging"
	"gestureguard/internal/metrics"
	"gestureguard/internal/policy"
	"gestureguard/internal/store"
)

// UnknownUser is the identity used while nobody is logged in. Its gestures
// are stored but never trained on or scored.
const UnknownUser = "unknown@example.com"

var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("guard: no active session")
	// ErrNoUser is returned when activation names no user.
	ErrNoUser = errors.New("guard: user is required")
	// ErrNoPendingPrompt is returned by CompleteReauth when nothing is pending.
	ErrNoPendingPrompt = errors.New("guard: no pending re-authentication prompt")
)

// Store is the persistence the monitor needs.
type Store interface {
	detector.Flags
	AppendGesture(ctx context.Context, r *gesture.Record) (int64, error)
	GesturesForUser(ctx context.Context, userID string) ([]gesture.Record, error)
	CountGestures(ctx context.Context, userID string) (int, error)
	CompletedSessions(ctx context.Context, userID string) (int, error)
	CompleteSession(ctx context.Context, userID string) (int, error)
	InsertReauthEvent(ctx context.Context, e *store.ReauthEvent) (int64, error)
	CompleteReauthEvent(ctx context.Context, id int64, success bool, at time.Time) error
}

// Options wires a Monitor.
type Options struct {
	Store      Store
	Artifacts  artifact.Store
	Biometrics biometric.Prober
	Detector   detector.Config
	Policy     policy.Config
	SettleTime time.Duration
	// ManualTraining disables training during Setup.
	ManualTraining bool
	Logger         *logging.Logger
	Metrics        *metrics.DetectorMetrics
	Now            func() time.Time
}

// Monitor holds one active identity per process. It is safe for concurrent use.
type Monitor struct {
	store      Store
	trainer    *detector.Trainer
	scorer     *detector.Scorer
	cache      *detector.ProfileCache
	policy     *policy.Machine
	capture    *gesture.Capture
	biometrics biometric.Prober
	autoTrain  bool
	log        *logging.Logger
	metrics    *metrics.DetectorMetrics
	now        func() time.Time

	training atomic.Bool

	mu            sync.Mutex
	session       gesture.SessionContext
	active        bool
	confirmShown  bool
	pendingReauth int64
}

// New builds a Monitor from opts.
func New(opts Options) (*Monitor, error) {
	if opts.Store == nil {
		return nil, errors.New("guard: store is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("guard: artifact store is required")
	}
	if opts.Biometrics == nil {
		opts.Biometrics = biometric.Static(false)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewDetectorMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Monitor{
		store:      opts.Store,
		trainer:    detector.NewTrainer(opts.Artifacts, opts.Store, opts.Detector, opts.Logger, opts.Metrics),
		scorer:     detector.NewScorer(opts.Artifacts, opts.Store, opts.Detector, opts.Logger, opts.Metrics),
		cache:      detector.NewProfileCache(),
		policy:     policy.NewMachine(opts.Policy),
		capture:    gesture.NewCapture(opts.SettleTime),
		biometrics: opts.Biometrics,
		autoTrain:  !opts.ManualTraining,
		log:        opts.Logger.WithComponent("monitor"),
		metrics:    opts.Metrics,
		now:        opts.Now,
	}, nil
}

// Session returns the active session context and whether one is open.
func (m *Monitor) Session() (gesture.SessionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.active
}

// State returns the policy state of the active identity.
func (m *Monitor) State() policy.State {
	return m.policy.State(m.now())
}

// Activate makes user the active identity and opens its next session. A
// change of identity completes the previous user's session, resets the
// policy and drops other users' profiles.
// Re-activating the active user keeps the open session and reruns Setup.
func (m *Monitor) Activate(ctx context.Context, user, displayName string) (gesture.SessionContext, SetupResult, error) {
	if user == "" {
		return gesture.SessionContext{}, SetupResult{}, ErrNoUser
	}

	m.mu.Lock()
	if !m.active || m.session.UserID != user {
		completed, err := m.store.CompletedSessions(ctx, user)
		if err != nil {
			m.mu.Unlock()
			return gesture.SessionContext{}, SetupResult{}, fmt.Errorf("activate %s: %w", user, err)
		}

		// The outgoing session is counted; session numbers never repeat.
		if m.active {
			if _, err := m.endSessionLocked(ctx, false); err != nil {
				m.mu.Unlock()
				return gesture.SessionContext{}, SetupResult{}, fmt.Errorf("activate %s: %w", user, err)
			}
		}
		m.policy.Reset(user)
		m.cache.InvalidateExcept(user)
		m.capture.Reset()
		m.confirmShown = false
		m.pendingReauth = 0
		m.session = gesture.NewSessionContext(user, displayName, completed+1, m.now())
		m.active = true
		m.metrics.SessionStarted()
		m.metrics.CachedProfiles.Set(int64(m.cache.Len()))

		m.log.WithUser(user).Info("session activated",
			"session_id", m.session.SessionID, "session_number", m.session.SessionNumber)
	}
	sc := m.session
	m.mu.Unlock()

	return sc, m.Setup(ctx), nil
}

// Setup prepares detection for the active session: it loads the profile
// when the user is trained, trains when enough sessions have completed, and
// otherwise keeps collecting.
func (m *Monitor) Setup(ctx context.Context) SetupResult {
	sc, ok := m.Session()
	if !ok {
		return SetupResult{Status: StatusModelUnavailable, Message: "no active session"}
	}
	res := SetupResult{
		SessionNumber:     sc.SessionNumber,
		CompletedSessions: sc.SessionNumber - 1,
		RequiredSessions:  m.policy.Config().RequiredSessions,
		RequiredRecords:   m.trainer.MinRecords(),
	}
	if sc.UserID == UnknownUser {
		res.Status = StatusModelUnavailable
		res.Message = "anonymous user, anomaly detection disabled"
		return res
	}
	log := m.log.WithUser(sc.UserID)

	trained, err := m.scorer.IsTrained(ctx, sc.UserID)
	if err != nil {
		log.Error("setup failed", "error", err)
		res.Status = StatusModelUnavailable
		res.Message = "could not read trained flag"
		return res
	}

	if trained {
		if m.loadProfile(ctx, sc) == nil {
			m.demote(sc)
			res.Status = StatusModelUnavailable
			res.Message = "profile is marked trained but could not be loaded"
			return res
		}
		res.Status = StatusAlreadyTrained
		res.Message = "behavioral profile loaded, anomaly detection active"
		if sc.SessionNumber > res.RequiredSessions {
			res.Prompt = m.promptOnce(sc, policy.ConfirmIdentityPrompt())
		}
		return res
	}

	if !m.autoTrain || res.CompletedSessions < res.RequiredSessions {
		res.Status = StatusCollecting
		res.Message = fmt.Sprintf("collecting data for session %d of %d", sc.SessionNumber, res.RequiredSessions)
		return res
	}

	res = m.train(ctx, sc.UserID, res)
	if res.Status == StatusTrained && m.isActive(sc) {
		res.Prompt = m.promptOnce(sc, policy.TrainingCompletePrompt())
	}
	return res
}

// Train trains userID's profile now, without the session-count gate. The
// minimum record count still applies and only one run may be in flight.
func (m *Monitor) Train(ctx context.Context, userID string) SetupResult {
	res := SetupResult{RequiredRecords: m.trainer.MinRecords()}
	if userID == "" || userID == UnknownUser {
		res.Status = StatusModelUnavailable
		res.Message = "training requires a known user"
		return res
	}
	return m.train(ctx, userID, res)
}

func (m *Monitor) train(ctx context.Context, userID string, res SetupResult) SetupResult {
	log := m.log.WithUser(userID)

	if !m.training.CompareAndSwap(false, true) {
		log.Warn("training already in progress, skipping")
		m.metrics.TrainingSkipped.Inc()
		res.Status = StatusTrainingSkipped
		res.Message = "training already in progress"
		return res
	}
	defer m.training.Store(false)

	records, err := m.store.GesturesForUser(ctx, userID)
	if err != nil {
		log.Error("loading training records failed", "error", err)
		res.Status = StatusTrainingFailed
		res.Message = "could not read gesture history"
		return res
	}
	res.Records = len(records)

	if len(records) < m.trainer.MinRecords() {
		res.Status = StatusInsufficientData
		res.Message = fmt.Sprintf("please keep using the app to collect enough data (%d/%d gestures collected)",
			len(records), m.trainer.MinRecords())
		return res
	}

	if !m.trainer.Train(ctx, records, userID) {
		res.Status = StatusTrainingFailed
		res.Message = "failed to train behavioral model"
		return res
	}

	m.cache.Invalidate(userID)
	if sc, ok := m.Session(); ok && sc.UserID == userID {
		if m.loadProfile(ctx, sc) == nil {
			m.demote(sc)
			res.Status = StatusModelUnavailable
			res.Message = "training succeeded but the profile could not be loaded"
			return res
		}
	}

	res.Status = StatusTrained
	res.Message = "behavioral profile trained, anomaly detection active"
	return res
}

// loadProfile returns the cached profile for sc's user or loads it. On
// success the policy moves to TRAINED_ACTIVE if sc is still active.
func (m *Monitor) loadProfile(ctx context.Context, sc gesture.SessionContext) *detector.Profile {
	if p, ok := m.cache.Get(sc.UserID); ok && p.UserID == sc.UserID {
		return p
	}

	p, err := m.scorer.LoadProfile(ctx, sc.UserID)
	if err != nil {
		m.log.WithUser(sc.UserID).Error("profile load failed", "error", err)
		return nil
	}
	if p == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active && m.session.UserID == sc.UserID {
		m.cache.Put(p)
		m.metrics.CachedProfiles.Set(int64(m.cache.Len()))
		m.policy.MarkTrained()
	}
	return p
}

// demote returns the policy to COLLECTING when sc is still active and its
// profile is gone, dropping any prompt raised against it.
func (m *Monitor) demote(sc gesture.SessionContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active && m.session.SessionID == sc.SessionID {
		m.cache.Invalidate(sc.UserID)
		m.metrics.CachedProfiles.Set(int64(m.cache.Len()))
		m.policy.MarkCollecting()
		m.pendingReauth = 0
	}
}

func (m *Monitor) promptOnce(sc gesture.SessionContext, p policy.Prompt) *policy.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmShown || !m.active || m.session.SessionID != sc.SessionID {
		return nil
	}
	m.confirmShown = true
	return &p
}

func (m *Monitor) isActive(sc gesture.SessionContext) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.session.SessionID == sc.SessionID
}

// LogGesture records ev for the active session and, when a profile is
// ready, scores it. Gestures made before the screen settled return
// gesture.ErrScreenNotSettled and are not stored.
func (m *Monitor) LogGesture(ctx context.Context, ev gesture.Event) (Outcome, error) {
	sc, ok := m.Session()
	if !ok {
		m.metrics.GesturesRejected.Inc()
		return Outcome{}, ErrNoSession
	}

	rec, err := m.capture.Record(sc, ev, m.now())
	if err != nil {
		m.metrics.GesturesRejected.Inc()
		return Outcome{}, fmt.Errorf("capture gesture: %w", err)
	}

	id, err := m.store.AppendGesture(ctx, &rec)
	if err != nil {
		m.metrics.GesturesRejected.Inc()
		return Outcome{}, fmt.Errorf("store gesture: %w", err)
	}
	m.metrics.GesturesTotal.Inc()

	out := Outcome{ID: id, Record: rec}
	if sc.UserID == UnknownUser {
		return out, nil
	}

	res, prompt := m.Check(ctx, &rec)
	if !res.Failed() {
		out.Evaluated = true
		out.Result = &res
	}
	out.Prompt = prompt
	return out, nil
}

// Check scores rec against the active user's profile and evaluates the
// policy. A failed result with a nil prompt means detection is not ready.
func (m *Monitor) Check(ctx context.Context, rec *gesture.Record) (detector.Result, *policy.Prompt) {
	notReady := detector.Result{ReconstructionError: detector.FailedScore}

	sc, ok := m.Session()
	if !ok || sc.UserID == UnknownUser {
		return notReady, nil
	}
	log := m.log.WithUser(sc.UserID)

	if rec.UserID != "" && rec.UserID != sc.UserID {
		log.Warn("gesture belongs to another user, skipping check", "record_user", rec.UserID)
		return notReady, nil
	}

	profile := m.loadProfile(ctx, sc)
	if profile == nil {
		log.Debug("no profile loaded, skipping check")
		return notReady, nil
	}

	res := m.scorer.Detect(profile, rec, sc.UserID)
	if res.Failed() {
		return res, nil
	}

	// Only probe hardware when a prompt is possible.
	available := false
	if res.IsAnomaly {
		available = m.biometrics.Available(ctx)
	}

	now := m.now()
	prompt, fired := m.policy.Evaluate(res, available, now)
	if !fired {
		if res.IsAnomaly {
			log.Info("anomaly below action threshold or in cooldown",
				"reconstruction_error", res.ReconstructionError, "state", m.policy.State(now))
		}
		return res, nil
	}

	m.metrics.RecordPrompt(string(prompt.ActionType))
	log.Warn("anomaly detected, re-authentication required",
		"reconstruction_error", res.ReconstructionError,
		"risk_percentage", prompt.RiskPercentage,
		"action_type", prompt.ActionType)

	id, err := m.store.InsertReauthEvent(ctx, &store.ReauthEvent{
		UserID:              sc.UserID,
		SessionID:           sc.SessionID,
		ActionType:          string(prompt.ActionType),
		RiskPercentage:      prompt.RiskPercentage,
		ReconstructionError: prompt.ReconstructionError,
		PromptedAt:          now,
	})
	if err != nil {
		log.Error("recording re-authentication prompt failed", "error", err)
	}
	m.mu.Lock()
	m.pendingReauth = id
	m.mu.Unlock()

	return res, prompt
}

// CompleteReauth records the outcome of the pending prompt and starts the
// cooldown. A failed challenge escalates to a logout.
func (m *Monitor) CompleteReauth(ctx context.Context, success bool) (ReauthOutcome, error) {
	now := m.now()
	p := m.policy.Complete(success, now)
	if p == nil {
		return ReauthOutcome{}, ErrNoPendingPrompt
	}
	m.metrics.RecordReauth(success)

	m.mu.Lock()
	id := m.pendingReauth
	m.pendingReauth = 0
	user := m.session.UserID
	m.mu.Unlock()

	if id > 0 {
		if err := m.store.CompleteReauthEvent(ctx, id, success, now); err != nil {
			m.log.WithUser(user).Error("recording re-authentication outcome failed", "error", err)
		}
	}

	out := ReauthOutcome{Prompt: *p, Success: success}
	if success {
		m.log.WithUser(user).Info("identity verified", "action_type", p.ActionType)
		return out, nil
	}

	m.log.WithUser(user).Warn("re-authentication failed, logging out", "action_type", p.ActionType)
	if err := m.Logout(ctx); err != nil {
		return out, err
	}
	out.LoggedOut = true
	return out, nil
}

// EndSession completes the active session and opens the next one for the
// same user.
func (m *Monitor) EndSession(ctx context.Context) (gesture.SessionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return gesture.SessionContext{}, ErrNoSession
	}
	return m.endSessionLocked(ctx, true)
}

// endSessionLocked completes the active session. With reopen it also opens
// the user's next session.
func (m *Monitor) endSessionLocked(ctx context.Context, reopen bool) (gesture.SessionContext, error) {
	prev := m.session
	completed := prev.SessionNumber
	if prev.UserID != UnknownUser {
		n, err := m.store.CompleteSession(ctx, prev.UserID)
		if err != nil {
			return gesture.SessionContext{}, fmt.Errorf("end session: %w", err)
		}
		completed = n
	}

	m.capture.Reset()
	m.metrics.SessionEnded()
	m.log.WithUser(prev.UserID).Info("session ended",
		"ended_session", prev.SessionID, "completed_sessions", completed)
	if !reopen {
		return gesture.SessionContext{}, nil
	}

	m.session = gesture.NewSessionContext(prev.UserID, prev.DisplayName, completed+1, m.now())
	m.metrics.SessionStarted()
	return m.session, nil
}

// Logout ends the active session and clears the identity.
func (m *Monitor) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}
	user := m.session.UserID
	if _, err := m.endSessionLocked(ctx, false); err != nil {
		return err
	}

	m.active = false
	m.session = gesture.SessionContext{}
	m.pendingReauth = 0
	m.confirmShown = false
	m.cache.Invalidate(user)
	m.metrics.CachedProfiles.Set(int64(m.cache.Len()))
	m.policy.Reset(UnknownUser)

	m.log.WithUser(user).Info("logged out")
	return nil
}

// Status reports what is stored for userID and, for the active user, the
// policy state.
func (m *Monitor) Status(ctx context.Context, userID string) (UserStatus, error) {
	st := UserStatus{
		UserID:           userID,
		RequiredSessions: m.policy.Config().RequiredSessions,
		RequiredRecords:  m.trainer.MinRecords(),
		MinRecordsHint:   detector.InformationalMinRecords,
	}

	var err error
	if st.Gestures, err = m.store.CountGestures(ctx, userID); err != nil {
		return UserStatus{}, fmt.Errorf("status %s: %w", userID, err)
	}
	if st.CompletedSessions, err = m.store.CompletedSessions(ctx, userID); err != nil {
		return UserStatus{}, fmt.Errorf("status %s: %w", userID, err)
	}
	if st.Trained, err = m.store.IsTrained(ctx, userID); err != nil {
		return UserStatus{}, fmt.Errorf("status %s: %w", userID, err)
	}

	st.TrainingInProgress = m.training.Load()
	if p, ok := m.cache.Get(userID); ok {
		st.ProfileLoaded = true
		st.Samples = p.Samples
		st.FinalLoss = p.FinalLoss
		if !p.TrainedAt.IsZero() {
			t := p.TrainedAt
			st.TrainedAt = &t
		}
	}

	sc, active := m.Session()
	if active && sc.UserID == userID {
		st.Active = true
		st.SessionID = sc.SessionID
		st.SessionNumber = sc.SessionNumber
		st.State = m.policy.State(m.now())
		st.PendingPrompt = m.policy.Pending()
	}
	return st, nil
}

// UpdateThresholds applies reloaded detection settings without touching
// policy state.
func (m *Monitor) UpdateThresholds(cfg config.DetectionConfig) {
	m.scorer.SetThreshold(cfg.AnomalyThreshold)

	pc := m.policy.Config()
	pc.ActionThreshold = cfg.ActionThresholdPercent
	pc.Cooldown = cfg.Cooldown()
	pc.DisplayCeiling = cfg.DisplayCeiling
	pc.BiometricCeiling = cfg.BiometricCeiling
	m.policy.SetConfig(pc)

	m.log.Info("detection thresholds updated",
		"anomaly_threshold", cfg.AnomalyThreshold,
		"action_threshold_percent", cfg.ActionThresholdPercent,
		"cooldown", pc.Cooldown)
}

// Thresholds returns the live anomaly threshold and policy settings.
func (m *Monitor) Thresholds() (float64, policy.Config) {
	return m.scorer.Threshold(), m.policy.Config()
}
