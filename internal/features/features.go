// Package features projects gesture records onto the fixed numeric feature
// set the autoencoder is trained on. The same code path serves training
// batches and single-record inference so both see identical inputs.
package features

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"gestureguard/internal/gesture"
)

// Names lists the encoded features in vector order.
var Names = []string{
	"x",
	"y",
	"touchDuration",
	"timeSinceLastGesture",
	"dx",
	"dy",
	"vx",
	"vy",
	"scrollSpeed",
	"scrollDistance",
	"typingSpeed",
}

// Dim is the length of every feature vector.
var Dim = len(Names)

var (
	// ErrNilRecord is returned when extraction is asked to project nothing.
	ErrNilRecord = errors.New("features: nil record")
	// ErrEmptyBatch is returned for a batch without records.
	ErrEmptyBatch = errors.New("features: empty batch")
)

// Vector is a feature vector in Names order.
type Vector []float64

// Extract projects one record.
func Extract(r *gesture.Record) (Vector, error) {
	if r == nil {
		return nil, ErrNilRecord
	}
	v := Vector{
		r.X,
		r.Y,
		r.TouchDuration,
		r.TimeSinceLastGesture,
		r.DX,
		r.DY,
		r.VX,
		r.VY,
		r.ScrollSpeed,
		r.ScrollDistance,
		r.TypingSpeed,
	}
	for i, x := range v {
		v[i] = finite(x)
	}
	return v, nil
}

// ExtractBatch projects records into an N×Dim matrix.
func ExtractBatch(records []gesture.Record) ([][]float64, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	rows := make([][]float64, len(records))
	for i := range records {
		v, err := Extract(&records[i])
		if err != nil {
			return nil, err
		}
		rows[i] = v
	}
	return rows, nil
}

// Coerce converts a loosely typed value to a feature value: missing or null
// become 0, booleans become 0 or 1, numeric strings are parsed.
func Coerce(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return finite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return finite(f)
	default:
		return 0
	}
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
