package gesture

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T, start time.Time) SessionContext {
	t.Helper()
	sc := NewSessionContext("alice@example.com", "Alice", 2, start)
	require.True(t, sc.Valid())
	return sc
}

func TestNewSessionContext(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	a := NewSessionContext("alice@example.com", "Alice", 3, start)
	b := NewSessionContext("alice@example.com", "Alice", 3, start)

	assert.True(t, strings.HasPrefix(a.SessionID, "alice@example.com_3_"))
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.False(t, SessionContext{UserID: "x"}.Valid())
}

func TestCaptureDerivesTiming(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	sc := testSession(t, start)
	c := NewCapture(DefaultSettleTime)

	first, err := c.Record(sc, Event{Screen: "Home", Kind: KindTap, X: 10, Y: 20}, start.Add(5*time.Second))
	require.NoError(t, err)
	assert.Zero(t, first.TimeSinceLastGesture)
	assert.Equal(t, 5000.0, first.SessionDuration)
	assert.Equal(t, 2, first.SessionNumber)
	assert.Equal(t, "alice@example.com", first.UserID)

	second, err := c.Record(sc, Event{Screen: "Home", Kind: KindDrag, VX: 3, VY: 4}, start.Add(5750*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 750.0, second.TimeSinceLastGesture)
	assert.InDelta(t, 5.0, second.GestureVelocity, 1e-9)
}

func TestCaptureResetsOnNewSession(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	c := NewCapture(0)

	sc1 := testSession(t, start)
	_, err := c.Record(sc1, Event{Kind: KindTap}, start.Add(time.Second))
	require.NoError(t, err)

	sc2 := NewSessionContext("alice@example.com", "Alice", 3, start.Add(time.Minute))
	rec, err := c.Record(sc2, Event{Kind: KindTap}, start.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, rec.TimeSinceLastGesture)
}

func TestCaptureSettleGate(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	sc := testSession(t, start)
	c := NewCapture(DefaultSettleTime)

	entered := start.Add(10 * time.Second).UnixMilli()
	_, err := c.Record(sc, Event{Kind: KindTap, ScreenEnteredAt: entered}, start.Add(11*time.Second))
	assert.ErrorIs(t, err, ErrScreenNotSettled)

	_, err = c.Record(sc, Event{Kind: KindTap, ScreenEnteredAt: entered}, start.Add(13*time.Second))
	assert.NoError(t, err)
}

func TestCaptureTypingFields(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	sc := testSession(t, start)
	c := NewCapture(0)

	rec, err := c.Record(sc, Event{
		Kind: KindTyping,
		Typing: &TypingMeta{
			Characters: 12, Speed: 4.5, Backspaces: 2,
			TimeBetweenKeys: 180, KeyHoldDuration: 95, FieldName: "amount",
		},
	}, start.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 4.5, rec.TypingSpeed)
	assert.Equal(t, 12.0, rec.CharactersTyped)
	assert.Equal(t, "amount", rec.FieldName)
	assert.Zero(t, rec.DX)

	tap, err := c.Record(sc, Event{Kind: KindTap, X: 1}, start.Add(2*time.Second))
	require.NoError(t, err)
	assert.Zero(t, tap.TypingSpeed)
	assert.Zero(t, tap.BackspacesUsed)
}

func TestCaptureRejects(t *testing.T) {
	c := NewCapture(0)
	_, err := c.Record(SessionContext{}, Event{Kind: KindTap}, time.Now())
	assert.ErrorIs(t, err, ErrNoSession)

	sc := testSession(t, time.Now())
	_, err = c.Record(sc, Event{Kind: "pinch"}, time.Now())
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestClassifyRelease(t *testing.T) {
	tests := []struct {
		name      string
		dx, dy    float64
		held      time.Duration
		kind      Kind
		direction string
	}{
		{"tap", 1, -2, 120 * time.Millisecond, KindTap, ""},
		{"long press is a drag", 1, 1, 800 * time.Millisecond, KindDrag, ""},
		{"short drag", 20, 10, 400 * time.Millisecond, KindDrag, ""},
		{"swipe right", 120, 10, 200 * time.Millisecond, KindSwipe, "right"},
		{"swipe left", -90, 30, 200 * time.Millisecond, KindSwipe, "left"},
		{"swipe down", 10, 75, 200 * time.Millisecond, KindSwipe, "down"},
		{"swipe up", -20, -200, 200 * time.Millisecond, KindSwipe, "up"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, dir := ClassifyRelease(tc.dx, tc.dy, tc.held)
			assert.Equal(t, tc.kind, kind)
			assert.Equal(t, tc.direction, dir)
		})
	}
}
