// Package ingest decodes externally produced gesture records. Input is
// validated against a JSON schema and then coerced with the same rules the
// feature extractor applies, so loosely typed numbers ("12", true, null)
// are accepted.
package ingest

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gestureguard/internal/features"
	"gestureguard/internal/gesture"
)

//go:embed gesture-record.schema.json
var schemaJSON []byte

const schemaURL = "https://gestureguard.local/schema/gesture-record-v1.json"

// ErrInvalidRecord wraps every decode and validation failure.
var ErrInvalidRecord = errors.New("ingest: invalid gesture record")

// Decoder validates and converts raw JSON records.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the embedded record schema.
func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Decoder{schema: schema}, nil
}

var (
	defaultOnce    sync.Once
	defaultDecoder *Decoder
	defaultErr     error
)

// DecodeRecord decodes one record with the shared decoder.
func DecodeRecord(data []byte) (gesture.Record, error) {
	defaultOnce.Do(func() {
		defaultDecoder, defaultErr = NewDecoder()
	})
	if defaultErr != nil {
		return gesture.Record{}, defaultErr
	}
	return defaultDecoder.Decode(data)
}

// Decode validates data and converts it to a Record.
func (d *Decoder) Decode(data []byte) (gesture.Record, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return gesture.Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := d.schema.Validate(raw); err != nil {
		return gesture.Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	m := raw.(map[string]any)
	ts, err := timestamp(m["timestamp"])
	if err != nil {
		return gesture.Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	user := str(m["userId"])
	if user == "" {
		user = str(m["userEmail"])
	}

	num := func(key string) float64 { return features.Coerce(m[key]) }
	return gesture.Record{
		UserID:        user,
		DisplayName:   str(m["username"]),
		SessionID:     str(m["sessionId"]),
		SessionNumber: int(num("sessionNumber")),
		DeviceModel:   str(m["deviceModel"]),
		Screen:        str(m["screen"]),
		Kind:          gesture.Kind(str(m["gestureType"])),
		Timestamp:     ts,

		X:               num("x"),
		Y:               num("y"),
		Pressure:        num("pressure"),
		TouchDuration:   num("touchDuration"),
		SwipeDirection:  str(m["swipeDirection"]),
		GestureVelocity: num("gestureVelocity"),
		DX:              num("dx"),
		DY:              num("dy"),
		VX:              num("vx"),
		VY:              num("vy"),
		ScrollSpeed:     num("scrollSpeed"),
		ScrollDistance:  num("scrollDistance"),

		TypingSpeed:     num("typingSpeed"),
		CharactersTyped: num("totalCharactersTyped"),
		BackspacesUsed:  num("backspacesUsed"),
		TimeBetweenKeys: num("timeBetweenKeys"),
		KeyHoldDuration: num("keyHoldDuration"),
		FieldName:       str(m["fieldName"]),
		Action:          str(m["action"]),
		FinalValueLen:   num("finalValueLength"),

		TimeSinceLastGesture: num("timeSinceLastGesture"),
		SessionDuration:      num("sessionDuration"),
	}, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// timestamp accepts milliseconds since epoch or an RFC 3339 string.
func timestamp(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, nil
		}
		return int64(x), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("timestamp %q: %w", x, err)
		}
		return t.UnixMilli(), nil
	default:
		return 0, fmt.Errorf("timestamp has type %T", v)
	}
}

// Reader decodes newline-delimited records.
type Reader struct {
	dec     *Decoder
	scanner *bufio.Scanner
	line    int
}

// NewReader reads JSON Lines from r. Blank lines are skipped.
func NewReader(r io.Reader, dec *Decoder) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Reader{dec: dec, scanner: sc}
}

// Line returns the line number of the last record returned.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next record, or io.EOF at the end of input.
func (r *Reader) Next() (gesture.Record, error) {
	for r.scanner.Scan() {
		r.line++
		data := bytes.TrimSpace(r.scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		rec, err := r.dec.Decode(data)
		if err != nil {
			return gesture.Record{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return gesture.Record{}, fmt.Errorf("read records: %w", err)
	}
	return gesture.Record{}, io.EOF
}
