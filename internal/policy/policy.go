// Package policy decides when an anomaly warrants re-authentication and which
// challenge to present.
package policy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gestureguard/internal/detector"
)

// State is the policy state for the active identity.
type State string

const (
	StateCollecting     State = "COLLECTING"
	StateTrainedActive  State = "TRAINED_ACTIVE"
	StateAnomalyPending State = "ANOMALY_PENDING"
	StateReauthCooldown State = "REAUTH_COOLDOWN"
)

// ActionType is the challenge a prompt asks for.
type ActionType string

const (
	ActionBiometric ActionType = "biometric"
	ActionRelogin   ActionType = "relogin"
)

// Defaults.
const (
	DefaultRequiredSessions = 6
	DefaultActionThreshold  = 30.0 // percent
	DefaultCooldown         = 10 * time.Second
	DefaultDisplayCeiling   = 0.5
	DefaultBiometricCeiling = 0.3
)

// Config tunes the policy.
type Config struct {
	RequiredSessions int
	// ActionThreshold is the minimum risk percentage that triggers a prompt.
	ActionThreshold float64
	Cooldown        time.Duration
	// DisplayCeiling is the reconstruction error mapped to 100% risk.
	DisplayCeiling float64
	// BiometricCeiling is the highest error for which a biometric challenge
	// is offered instead of a full login.
	BiometricCeiling float64
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		RequiredSessions: DefaultRequiredSessions,
		ActionThreshold:  DefaultActionThreshold,
		Cooldown:         DefaultCooldown,
		DisplayCeiling:   DefaultDisplayCeiling,
		BiometricCeiling: DefaultBiometricCeiling,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequiredSessions <= 0 {
		c.RequiredSessions = d.RequiredSessions
	}
	if c.ActionThreshold <= 0 {
		c.ActionThreshold = d.ActionThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.DisplayCeiling <= 0 {
		c.DisplayCeiling = d.DisplayCeiling
	}
	if c.BiometricCeiling <= 0 {
		c.BiometricCeiling = d.BiometricCeiling
	}
	return c
}

// Prompt is the action handed to the UI layer.
type Prompt struct {
	Title               string     `json:"title"`
	Message             string     `json:"message"`
	ActionType          ActionType `json:"action_type"`
	RiskPercentage      int        `json:"risk_percentage"`
	ReconstructionError float64    `json:"reconstruction_error"`
}

// Risk maps a reconstruction error to a 0-100 percentage against ceiling.
func Risk(reconstructionError, ceiling float64) float64 {
	if reconstructionError <= 0 || ceiling <= 0 {
		return 0
	}
	return math.Min(100, reconstructionError/ceiling*100)
}

// ConfirmIdentityPrompt is shown once after a profile has been established.
func ConfirmIdentityPrompt() Prompt {
	return Prompt{
		Title:      "Reauthentication Required",
		Message:    "Your behavioral profile has been established. Please re-authenticate to confirm your identity and continue.",
		ActionType: ActionRelogin,
	}
}

// TrainingCompletePrompt is shown when automatic training has just finished.
func TrainingCompletePrompt() Prompt {
	return Prompt{
		Title:      "Training Complete",
		Message:    "Your behavioral profile has been successfully trained. Please re-authenticate to confirm your identity and continue with anomaly detection enabled.",
		ActionType: ActionRelogin,
	}
}

// Machine is the per-identity re-authentication state machine. It is safe
// for concurrent use.
type Machine struct {
	mu         sync.Mutex
	cfg        Config
	user       string
	state      State
	pending    *Prompt
	lastAction time.Time
}

// NewMachine starts in COLLECTING with no identity.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg.withDefaults(), state: StateCollecting}
}

// Config returns the active configuration.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetConfig replaces thresholds without touching state.
func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// Reset switches to a new identity and returns to COLLECTING.
func (m *Machine) Reset(user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = user
	m.state = StateCollecting
	m.pending = nil
	m.lastAction = time.Time{}
}

// MarkTrained moves to TRAINED_ACTIVE once a profile is loaded.
func (m *Machine) MarkTrained() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateCollecting {
		m.state = StateTrainedActive
	}
}

// MarkCollecting drops back to COLLECTING, for example when the profile
// could not be loaded.
func (m *Machine) MarkCollecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateCollecting
	m.pending = nil
}

// User returns the identity the machine tracks.
func (m *Machine) User() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// State returns the current state, advancing out of an elapsed cooldown.
func (m *Machine) State(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(now)
	return m.state
}

// Pending returns the outstanding prompt, if any.
func (m *Machine) Pending() *Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return nil
	}
	p := *m.pending
	return &p
}

func (m *Machine) advance(now time.Time) {
	if m.state == StateReauthCooldown && now.Sub(m.lastAction) >= m.cfg.Cooldown {
		m.state = StateTrainedActive
	}
}

// Evaluate considers one scoring result. It returns a prompt and true only
// when the machine moves to ANOMALY_PENDING.
func (m *Machine) Evaluate(res detector.Result, biometricAvailable bool, now time.Time) (*Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advance(now)
	if m.state != StateTrainedActive {
		return nil, false
	}
	if res.Failed() || !res.IsAnomaly {
		return nil, false
	}
	if !m.lastAction.IsZero() && now.Sub(m.lastAction) < m.cfg.Cooldown {
		return nil, false
	}

	risk := Risk(res.ReconstructionError, m.cfg.DisplayCeiling)
	if risk < m.cfg.ActionThreshold {
		return nil, false
	}

	p := &Prompt{
		Title:               "Security Alert",
		RiskPercentage:      int(math.Round(risk)),
		ReconstructionError: res.ReconstructionError,
	}
	if res.ReconstructionError <= m.cfg.BiometricCeiling && biometricAvailable {
		p.ActionType = ActionBiometric
		p.Message = fmt.Sprintf("Anomaly detected (%d%% risk). You can quickly verify your identity using your fingerprint or face ID.", p.RiskPercentage)
	} else {
		p.ActionType = ActionRelogin
		p.Message = fmt.Sprintf("Significant unusual behavior detected (%d%% risk). For your security, please re-authenticate by logging in again.", p.RiskPercentage)
	}

	m.state = StateAnomalyPending
	m.pending = p
	out := *p
	return &out, true
}

// Complete records the outcome of the pending prompt and starts the
// cooldown regardless of success. It returns the prompt that was completed,
// or nil when nothing was pending.
func (m *Machine) Complete(success bool, now time.Time) *Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAnomalyPending {
		return nil
	}
	p := m.pending
	m.pending = nil
	m.lastAction = now
	m.state = StateReauthCooldown
	return p
}
