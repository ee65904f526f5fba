package gesture

import (
	"errors"
	"math"
	"sync"
	"time"
)

// DefaultSettleTime is how long a user must stay on a screen before its
// gestures are recorded. Navigation taps are noise for the profile.
const DefaultSettleTime = 3 * time.Second

var (
	// ErrScreenNotSettled is returned for gestures made right after entering a screen.
	ErrScreenNotSettled = errors.New("gesture: screen not settled")
	// ErrNoSession is returned when capture is attempted without an active session.
	ErrNoSession = errors.New("gesture: no active session")
	// ErrUnknownKind is returned for unrecognised gesture kinds.
	ErrUnknownKind = errors.New("gesture: unknown kind")
)

// Capture turns events into records for one session at a time. It tracks
// the previous gesture so inter-gesture timing can be derived.
type Capture struct {
	mu          sync.Mutex
	settle      time.Duration
	sessionID   string
	lastGesture int64
}

// NewCapture creates a Capture with the given settle window.
func NewCapture(settle time.Duration) *Capture {
	return &Capture{settle: settle}
}

// Reset forgets inter-gesture timing, as at a session boundary.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.lastGesture = 0
}

// Record builds the record for ev observed at now within session sc.
func (c *Capture) Record(sc SessionContext, ev Event, now time.Time) (Record, error) {
	if !sc.Valid() {
		return Record{}, ErrNoSession
	}
	if !ev.Kind.Valid() {
		return Record{}, ErrUnknownKind
	}

	nowMs := now.UnixMilli()
	if ev.ScreenEnteredAt > 0 && c.settle > 0 && nowMs-ev.ScreenEnteredAt < c.settle.Milliseconds() {
		return Record{}, ErrScreenNotSettled
	}

	c.mu.Lock()
	if c.sessionID != sc.SessionID {
		c.sessionID = sc.SessionID
		c.lastGesture = 0
	}
	var sinceLast int64
	if c.lastGesture > 0 {
		sinceLast = nowMs - c.lastGesture
	}
	c.lastGesture = nowMs
	c.mu.Unlock()

	var sessionDuration int64
	if !sc.StartedAt.IsZero() {
		sessionDuration = nowMs - sc.StartedAt.UnixMilli()
	}

	rec := Record{
		UserID:               sc.UserID,
		DisplayName:          sc.DisplayName,
		SessionID:            sc.SessionID,
		SessionNumber:        sc.SessionNumber,
		DeviceModel:          sc.DeviceModel,
		Screen:               ev.Screen,
		Kind:                 ev.Kind,
		Timestamp:            nowMs,
		X:                    ev.X,
		Y:                    ev.Y,
		Pressure:             ev.Pressure,
		TouchDuration:        ev.TouchDuration,
		SwipeDirection:       ev.SwipeDirection,
		GestureVelocity:      math.Hypot(ev.VX, ev.VY),
		DX:                   ev.DX,
		DY:                   ev.DY,
		VX:                   ev.VX,
		VY:                   ev.VY,
		ScrollSpeed:          ev.ScrollSpeed,
		ScrollDistance:       ev.ScrollDistance,
		Action:               ev.Action,
		FieldName:            ev.FieldName,
		TimeSinceLastGesture: float64(sinceLast),
		SessionDuration:      float64(sessionDuration),
	}

	if t := ev.Typing; t != nil {
		rec.TypingSpeed = t.Speed
		rec.CharactersTyped = t.Characters
		rec.BackspacesUsed = t.Backspaces
		rec.TimeBetweenKeys = t.TimeBetweenKeys
		rec.KeyHoldDuration = t.KeyHoldDuration
		rec.FinalValueLen = t.FinalValueLen
		if t.FieldName != "" {
			rec.FieldName = t.FieldName
		}
	}

	return rec, nil
}
