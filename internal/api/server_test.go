package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gestureguard/internal/detector"
	"gestureguard/internal/gesture"
	"gestureguard/internal/guard"
	"gestureguard/internal/health"
	"gestureguard/internal/logging"
	"gestureguard/internal/metrics"
	"gestureguard/internal/policy"
	"gestureguard/internal/store"
)

type fakeGuard struct {
	activateErr error
	gestureErr  error
	reauthErr   error
	train       guard.SetupResult
	lastEvent   gesture.Event
	lastSuccess bool
}

func (f *fakeGuard) Activate(_ context.Context, user, name string) (gesture.SessionContext, guard.SetupResult, error) {
	if f.activateErr != nil {
		return gesture.SessionContext{}, guard.SetupResult{}, f.activateErr
	}
	return gesture.SessionContext{UserID: user, DisplayName: name, SessionID: user + "_1", SessionNumber: 1},
		guard.SetupResult{Status: guard.StatusCollecting, SessionNumber: 1}, nil
}

func (f *fakeGuard) EndSession(context.Context) (gesture.SessionContext, error) {
	return gesture.SessionContext{}, guard.ErrNoSession
}

func (f *fakeGuard) Logout(context.Context) error { return nil }

func (f *fakeGuard) LogGesture(_ context.Context, ev gesture.Event) (guard.Outcome, error) {
	f.lastEvent = ev
	if f.gestureErr != nil {
		return guard.Outcome{}, f.gestureErr
	}
	return guard.Outcome{ID: 42, Prompt: &policy.Prompt{Title: "Security Alert", ActionType: policy.ActionRelogin, RiskPercentage: 80}}, nil
}

func (f *fakeGuard) CompleteReauth(_ context.Context, success bool) (guard.ReauthOutcome, error) {
	f.lastSuccess = success
	if f.reauthErr != nil {
		return guard.ReauthOutcome{}, f.reauthErr
	}
	return guard.ReauthOutcome{Success: success, LoggedOut: !success}, nil
}

func (f *fakeGuard) Status(_ context.Context, user string) (guard.UserStatus, error) {
	if user == "broken" {
		return guard.UserStatus{}, errors.New("database is locked")
	}
	return guard.UserStatus{UserID: user, Gestures: 12, RequiredSessions: 6}, nil
}

func (f *fakeGuard) Train(context.Context, string) guard.SetupResult { return f.train }

func newTestServer(g Guard) *Server {
	return NewServer(Options{
		Guard:        g,
		Metrics:      metrics.NewRegistry("apitest", ""),
		Logger:       logging.Discard(),
		MaxBodyBytes: 4096,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestActivate(t *testing.T) {
	srv := newTestServer(&fakeGuard{})

	rec := do(t, srv, http.MethodPost, "/v1/sessions", `{"user_id":"alice@example.com","display_name":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice@example.com", resp.Session.UserID)
	require.NotNil(t, resp.Setup)
	assert.Equal(t, guard.StatusCollecting, resp.Setup.Status)
}

func TestActivateValidation(t *testing.T) {
	srv := newTestServer(&fakeGuard{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing user", `{"display_name":"Alice"}`, http.StatusBadRequest},
		{"malformed", `{"user_id":`, http.StatusBadRequest},
		{"unknown field", `{"user_id":"a","admin":true}`, http.StatusBadRequest},
		{"too large", fmt.Sprintf(`{"user_id":"%s"}`, strings.Repeat("a", 5000)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/v1/sessions", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestActivateStoreError(t *testing.T) {
	srv := newTestServer(&fakeGuard{activateErr: fmt.Errorf("activate: %w", errors.New("disk I/O error"))})
	rec := do(t, srv, http.MethodPost, "/v1/sessions", `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk I/O")
}

func TestGestureMapsRequest(t *testing.T) {
	g := &fakeGuard{}
	srv := newTestServer(g)

	body := `{"screen":"Login","gestureType":"typing","action":"blur","fieldName":"password",
		"typing":{"totalCharactersTyped":8,"typingSpeed":4.2,"backspacesUsed":1}}`
	rec := do(t, srv, http.MethodPost, "/v1/gestures", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, gesture.KindTyping, g.lastEvent.Kind)
	assert.Equal(t, "password", g.lastEvent.FieldName)
	require.NotNil(t, g.lastEvent.Typing)
	assert.Equal(t, 4.2, g.lastEvent.Typing.Speed)
	assert.Equal(t, 1.0, g.lastEvent.Typing.Backspaces)

	var out guard.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Prompt)
	assert.Equal(t, 80, out.Prompt.RiskPercentage)
}

func TestGestureErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		code int
	}{
		{"unknown kind", nil, `{"gestureType":"pinch"}`, http.StatusBadRequest},
		{"not settled", fmt.Errorf("capture gesture: %w", gesture.ErrScreenNotSettled), `{"gestureType":"tap"}`, http.StatusAccepted},
		{"no session", guard.ErrNoSession, `{"gestureType":"tap"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeGuard{gestureErr: tt.err})
			rec := do(t, srv, http.MethodPost, "/v1/gestures", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestReauth(t *testing.T) {
	g := &fakeGuard{}
	srv := newTestServer(g)

	rec := do(t, srv, http.MethodPost, "/v1/reauth", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "success must be explicit")

	rec = do(t, srv, http.MethodPost, "/v1/reauth", `{"success":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, g.lastSuccess)
	var out guard.ReauthOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.LoggedOut)

	g.reauthErr = guard.ErrNoPendingPrompt
	rec = do(t, srv, http.MethodPost, "/v1/reauth", `{"success":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEndSessionAndLogout(t *testing.T) {
	srv := newTestServer(&fakeGuard{})
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/v1/sessions/end", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/v1/logout", "").Code)
}

func TestStatus(t *testing.T) {
	srv := newTestServer(&fakeGuard{})

	rec := do(t, srv, http.MethodGet, "/v1/users/alice%40example.com/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st guard.UserStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "alice@example.com", st.UserID)
	assert.Equal(t, 12, st.Gestures)

	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/v1/users/broken/status", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodPost, "/v1/users/alice/status", "").Code)
}

func TestTrainStatusCodes(t *testing.T) {
	tests := []struct {
		status guard.SetupStatus
		code   int
	}{
		{guard.StatusTrained, http.StatusOK},
		{guard.StatusTrainingSkipped, http.StatusConflict},
		{guard.StatusInsufficientData, http.StatusUnprocessableEntity},
		{guard.StatusTrainingFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			srv := newTestServer(&fakeGuard{train: guard.SetupResult{Status: tt.status}})
			rec := do(t, srv, http.MethodPost, "/v1/users/alice/train", "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestOperationalEndpoints(t *testing.T) {
	checker := health.NewChecker()
	checker.SetReady(true)
	checker.RegisterFunc("db", true, health.CustomCheck(func() error { return nil }))

	reg := metrics.NewRegistry("apitest", "")
	reg.RegisterCounter("requests_total", "Requests.", nil).Inc()

	srv := NewServer(Options{Guard: &fakeGuard{}, Health: checker, Metrics: reg, Logger: logging.Discard()})

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/livez", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", "").Code)

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apitest_requests_total 1")
}

func TestMonitorEndToEnd(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "gestures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mon, err := guard.New(guard.Options{
		Store:     db,
		Artifacts: db,
		Logger:    logging.Discard(),
		Metrics:   metrics.NewDetectorMetrics(metrics.NewRegistry("e2e", "")),
	})
	require.NoError(t, err)
	srv := newTestServer(mon)

	rec := do(t, srv, http.MethodPost, "/v1/gestures", `{"gestureType":"tap"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "no session yet")

	rec = do(t, srv, http.MethodPost, "/v1/sessions", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 3; i++ {
		rec = do(t, srv, http.MethodPost, "/v1/gestures", `{"screen":"Home","gestureType":"tap","x":120,"y":300,"touchDuration":80}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = do(t, srv, http.MethodPost, "/v1/sessions/end", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Session.SessionNumber)

	rec = do(t, srv, http.MethodGet, "/v1/users/alice/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st guard.UserStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Gestures)
	assert.Equal(t, 1, st.CompletedSessions)
	assert.Equal(t, policy.StateCollecting, st.State)

	rec = do(t, srv, http.MethodPost, "/v1/users/alice/train", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

type infiniteGuard struct{ fakeGuard }

func (*infiniteGuard) LogGesture(context.Context, gesture.Event) (guard.Outcome, error) {
	return guard.Outcome{Prompt: &policy.Prompt{Title: "Security Alert", ReconstructionError: math.Inf(1)}}, nil
}

func TestUnencodableResponseIsServerError(t *testing.T) {
	srv := newTestServer(&infiniteGuard{})

	rec := do(t, srv, http.MethodPost, "/v1/gestures", `{"gestureType":"tap"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal error", resp.Error)
}

func TestExtremeGestureReturnsEncodablePrompt(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "gestures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dcfg := detector.DefaultConfig()
	dcfg.MinRecords = 40
	dcfg.Epochs = 10
	dcfg.Seed = 5
	mon, err := guard.New(guard.Options{
		Store:          db,
		Artifacts:      db,
		Detector:       dcfg,
		ManualTraining: true,
		Logger:         logging.Discard(),
		Metrics:        metrics.NewDetectorMetrics(metrics.NewRegistry("extreme", "")),
	})
	require.NoError(t, err)
	srv := newTestServer(mon)

	rec := do(t, srv, http.MethodPost, "/v1/sessions", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	for i := 0; i < 45; i++ {
		body := fmt.Sprintf(`{"screen":"Home","gestureType":"tap","x":%d,"y":%d,"touchDuration":%d}`,
			100+i, 300+i%7, 80+i%5)
		rec = do(t, srv, http.MethodPost, "/v1/gestures", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/v1/users/alice/train", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/v1/gestures", `{"screen":"Home","gestureType":"tap","x":1e200}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out guard.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Prompt)
	assert.Equal(t, 100, out.Prompt.RiskPercentage)
	assert.Equal(t, math.MaxFloat64, out.Prompt.ReconstructionError)

	rec = do(t, srv, http.MethodGet, "/v1/users/alice/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st guard.UserStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.PendingPrompt)
	assert.Equal(t, policy.StateAnomalyPending, st.State)
}
