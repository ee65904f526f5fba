// Package gesture defines the interaction telemetry the detector consumes and
// the capture logic that turns raw UI events into immutable records.
package gesture

// Kind identifies the interaction that produced a record.
type Kind string

const (
	KindTap        Kind = "tap"
	KindDrag       Kind = "drag"
	KindSwipe      Kind = "swipe"
	KindScroll     Kind = "scroll"
	KindTyping     Kind = "typing"
	KindFocus      Kind = "focus"
	KindBlur       Kind = "blur"
	KindRelease    Kind = "release"
	KindTouchStart Kind = "touchStart"
	KindTouchMove  Kind = "touchMove"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindTap, KindDrag, KindSwipe, KindScroll, KindTyping,
		KindFocus, KindBlur, KindRelease, KindTouchStart, KindTouchMove:
		return true
	}
	return false
}

// Record is one observed interaction. Numeric fields a kind does not produce
// stay at zero (typing metrics on a tap, drag deltas on a keystroke, ...).
type Record struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"username,omitempty"`
	SessionID     string `json:"sessionId"`
	SessionNumber int    `json:"sessionNumber"`
	DeviceModel   string `json:"deviceModel,omitempty"`
	Screen        string `json:"screen"`
	Kind          Kind   `json:"gestureType"`
	Timestamp     int64  `json:"timestamp"` // ms since epoch

	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Pressure        float64 `json:"pressure"`
	TouchDuration   float64 `json:"touchDuration"`
	SwipeDirection  string  `json:"swipeDirection,omitempty"`
	GestureVelocity float64 `json:"gestureVelocity"`
	DX              float64 `json:"dx"`
	DY              float64 `json:"dy"`
	VX              float64 `json:"vx"`
	VY              float64 `json:"vy"`
	ScrollSpeed     float64 `json:"scrollSpeed"`
	ScrollDistance  float64 `json:"scrollDistance"`

	TypingSpeed     float64 `json:"typingSpeed"`
	CharactersTyped float64 `json:"totalCharactersTyped"`
	BackspacesUsed  float64 `json:"backspacesUsed"`
	TimeBetweenKeys float64 `json:"timeBetweenKeys"`
	KeyHoldDuration float64 `json:"keyHoldDuration"`
	FieldName       string  `json:"fieldName,omitempty"`
	Action          string  `json:"action,omitempty"`
	FinalValueLen   float64 `json:"finalValueLength,omitempty"`

	TimeSinceLastGesture float64 `json:"timeSinceLastGesture"` // ms
	SessionDuration      float64 `json:"sessionDuration"`      // ms
}

// TypingMeta carries per-field typing statistics reported on blur or submit.
type TypingMeta struct {
	Characters      float64
	Speed           float64
	Backspaces      float64
	TimeBetweenKeys float64
	KeyHoldDuration float64
	FieldName       string
	FinalValueLen   float64
}

// Event is a raw interaction as reported by the UI layer.
type Event struct {
	Screen string
	Kind   Kind

	X, Y           float64
	Pressure       float64
	TouchDuration  float64
	DX, DY         float64
	VX, VY         float64
	ScrollSpeed    float64
	ScrollDistance float64
	SwipeDirection string
	Action         string
	FieldName      string

	Typing *TypingMeta

	// ScreenEnteredAt is when the user landed on Screen, in ms since epoch.
	// Zero disables the settle gate.
	ScreenEnteredAt int64
}
