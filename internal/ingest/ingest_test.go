package ingest

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestureguard/internal/gesture"
)

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{
		"userId": "alice@example.com",
		"username": "Alice",
		"sessionId": "alice_3_abc",
		"sessionNumber": 3,
		"screen": "Home",
		"gestureType": "drag",
		"timestamp": 1700000000123,
		"x": 10.5, "y": "20", "dx": true, "dy": null,
		"vx": 0.2, "vy": -0.1,
		"timeSinceLastGesture": "450"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", rec.UserID)
	assert.Equal(t, "Alice", rec.DisplayName)
	assert.Equal(t, 3, rec.SessionNumber)
	assert.Equal(t, gesture.KindDrag, rec.Kind)
	assert.Equal(t, int64(1700000000123), rec.Timestamp)
	assert.Equal(t, 10.5, rec.X)
	assert.Equal(t, 20.0, rec.Y)
	assert.Equal(t, 1.0, rec.DX)
	assert.Zero(t, rec.DY)
	assert.Equal(t, 450.0, rec.TimeSinceLastGesture)
	assert.Zero(t, rec.TypingSpeed)
}

func TestDecodeRecordAliasesAndTimestamps(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"userEmail":"bob@example.com","gestureType":"tap","timestamp":"2024-01-02T03:04:05.500Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", rec.UserID)
	assert.Equal(t, int64(1704164645500), rec.Timestamp)
}

func TestDecodeRecordRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"not an object", `[1,2]`},
		{"missing user", `{"gestureType":"tap"}`},
		{"missing kind", `{"userId":"a"}`},
		{"unknown kind", `{"userId":"a","gestureType":"pinch"}`},
		{"object coordinate", `{"userId":"a","gestureType":"tap","x":{"v":1}}`},
		{"bad timestamp", `{"userId":"a","gestureType":"tap","timestamp":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrInvalidRecord), "got %v", err)
		})
	}
}

func TestReader(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	input := strings.Join([]string{
		`{"userId":"a","gestureType":"tap","x":1}`,
		``,
		`{"userId":"a","gestureType":"scroll","scrollSpeed":"3.5"}`,
		`{"userId":"a","gestureType":"nope"}`,
	}, "\n")
	r := NewReader(strings.NewReader(input), dec)

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.X)
	assert.Equal(t, 1, r.Line())

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 3.5, second.ScrollSpeed)
	assert.Equal(t, 3, r.Line())

	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 4")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
