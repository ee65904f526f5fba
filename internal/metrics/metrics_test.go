package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramBucketsAreNotDoubleCounted(t *testing.T) {
	h := NewHistogram("h", "help", nil, []float64{1, 2, 3})
	h.Observe(0.5)
	h.Observe(2)
	h.Observe(2.5)
	h.Observe(10)

	bounds, cumulative := h.Buckets()
	assert.Equal(t, []float64{1, 2, 3}, bounds)
	assert.Equal(t, []uint64{1, 2, 3, 4}, cumulative)
	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 15.0, h.Sum(), 1e-9)
}

func TestRegistryPrometheusOutput(t *testing.T) {
	r := NewRegistry("gg", "test")
	r.RegisterCounter("b_total", "b", nil).Add(3)
	r.RegisterCounter("a_total", "a", Labels{"kind": "tap"}).Inc()
	r.RegisterGauge("g", "g", nil).Set(-2)
	r.RegisterHistogram("lat", "lat", nil, []float64{0.1, 1}).Observe(0.5)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Contains(t, out, `gg_test_a_total{kind="tap"} 1`)
	assert.Contains(t, out, "gg_test_b_total 3")
	assert.Contains(t, out, "gg_test_g -2")
	assert.Contains(t, out, `gg_test_lat_bucket{le="0.1"} 0`)
	assert.Contains(t, out, `gg_test_lat_bucket{le="1"} 1`)
	assert.Contains(t, out, "gg_test_lat_sum 0.5")
	assert.Contains(t, out, `gg_test_lat_bucket{le="+Inf"} 1`)
	assert.Less(t, strings.Index(out, "gg_test_a_total"), strings.Index(out, "gg_test_b_total"))
}

func TestRegisterReturnsExisting(t *testing.T) {
	r := NewRegistry("", "")
	c1 := r.RegisterCounter("x", "x", nil)
	c2 := r.RegisterCounter("x", "x", nil)
	assert.Same(t, c1, c2)
	assert.Same(t, c1, r.GetCounter("x"))
}

func TestLabeledSeriesShareFamily(t *testing.T) {
	r := NewRegistry("gg", "")
	r.RegisterCounter("prompts_total", "p", Labels{"action": "relogin"}).Add(2)
	r.RegisterCounter("prompts_total", "p", Labels{"action": "biometric"}).Inc()

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Equal(t, 1, strings.Count(out, "# TYPE gg_prompts_total counter"))
	assert.Less(t, strings.Index(out, `action="biometric"`), strings.Index(out, `action="relogin"`))
	assert.Contains(t, out, `gg_prompts_total{action="relogin"} 2`)
}

func TestRegisterTypeConflictPanics(t *testing.T) {
	r := NewRegistry("", "")
	r.RegisterCounter("x", "x", nil)
	assert.Panics(t, func() { r.RegisterGauge("x", "x", nil) })
}

func TestHTTPHandlerJSON(t *testing.T) {
	r := NewRegistry("gg", "")
	r.RegisterCounter("c", "c", nil).Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["gg_c"]["value"])
}

func TestDetectorMetrics(t *testing.T) {
	m := NewDetectorMetrics(NewRegistry("gg", ""))

	m.RecordScore(0, 0.2, true)
	m.RecordScore(0, 0.01, false)
	m.RecordScore(0, -1, false)
	assert.Equal(t, uint64(3), m.ScoresTotal.Value())
	assert.Equal(t, uint64(1), m.AnomaliesTotal.Value())
	assert.Equal(t, uint64(1), m.ScoreFailures.Value())
	assert.Equal(t, uint64(2), m.ReconstructionError.Count())

	m.RecordPrompt("biometric")
	m.RecordPrompt("relogin")
	m.RecordReauth(false)
	assert.Equal(t, uint64(1), m.BiometricPrompts.Value())
	assert.Equal(t, uint64(1), m.ReloginPrompts.Value())
	assert.Equal(t, uint64(1), m.ReauthFailures.Value())

	timer := m.StartTraining()
	assert.Equal(t, int64(1), m.TrainingInProgress.Value())
	m.FinishTraining(timer, 320, true)
	assert.Equal(t, int64(0), m.TrainingInProgress.Value())
	assert.Equal(t, uint64(1), m.TrainingSamples.Count())

	m.SessionEnded()
	assert.Equal(t, int64(0), m.ActiveSessions.Value())
	m.SessionStarted()
	assert.Equal(t, int64(1), m.ActiveSessions.Value())

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap["reauth_prompts_total"])
}
