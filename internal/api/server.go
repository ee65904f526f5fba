// Package api exposes the monitor over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gestureguard/internal/gesture"
	"gestureguard/internal/guard"
	"gestureguard/internal/health"
	"gestureguard/internal/logging"
	"gestureguard/internal/metrics"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 1 << 20

// Guard is the monitor surface the handlers drive.
type Guard interface {
	Activate(ctx context.Context, user, displayName string) (gesture.SessionContext, guard.SetupResult, error)
	EndSession(ctx context.Context) (gesture.SessionContext, error)
	Logout(ctx context.Context) error
	LogGesture(ctx context.Context, ev gesture.Event) (guard.Outcome, error)
	CompleteReauth(ctx context.Context, success bool) (guard.ReauthOutcome, error)
	Status(ctx context.Context, userID string) (guard.UserStatus, error)
	Train(ctx context.Context, userID string) guard.SetupResult
}

// Options wires a Server.
type Options struct {
	Guard        Guard
	Health       *health.Checker
	Metrics      *metrics.Registry
	Logger       *logging.Logger
	MaxBodyBytes int64
}

// Server routes HTTP requests to the monitor.
type Server struct {
	guard   Guard
	health  *health.Checker
	metrics *metrics.Registry
	log     *logging.Logger
	maxBody int64
	router  *mux.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Health == nil {
		opts.Health = health.NewChecker()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		guard:   opts.Guard,
		health:  opts.Health,
		metrics: opts.Metrics,
		log:     opts.Logger.WithComponent("api"),
		maxBody: opts.MaxBodyBytes,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/sessions", s.handleActivate).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/end", s.handleEndSession).Methods(http.MethodPost)
	v1.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	v1.HandleFunc("/gestures", s.handleGesture).Methods(http.MethodPost)
	v1.HandleFunc("/reauth", s.handleReauth).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}/train", s.handleTrain).Methods(http.MethodPost)

	r.Handle("/healthz", s.health.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/livez", s.health.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/readyz", s.health.ReadinessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.HTTPHandler()).Methods(http.MethodGet)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type activateRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type sessionResponse struct {
	Session gesture.SessionContext `json:"session"`
	Setup   *guard.SetupResult     `json:"setup,omitempty"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sc, res, err := s.guard.Activate(r.Context(), req.UserID, req.DisplayName)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sc, Setup: &res})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sc, err := s.guard.EndSession(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sc})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Logout(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type typingRequest struct {
	Characters      float64 `json:"totalCharactersTyped"`
	Speed           float64 `json:"typingSpeed"`
	Backspaces      float64 `json:"backspacesUsed"`
	TimeBetweenKeys float64 `json:"timeBetweenKeys"`
	KeyHoldDuration float64 `json:"keyHoldDuration"`
	FieldName       string  `json:"fieldName"`
	FinalValueLen   float64 `json:"finalValueLength"`
}

type gestureRequest struct {
	Screen          string         `json:"screen"`
	Kind            gesture.Kind   `json:"gestureType"`
	X               float64        `json:"x"`
	Y               float64        `json:"y"`
	Pressure        float64        `json:"pressure"`
	TouchDuration   float64        `json:"touchDuration"`
	DX              float64        `json:"dx"`
	DY              float64        `json:"dy"`
	VX              float64        `json:"vx"`
	VY              float64        `json:"vy"`
	ScrollSpeed     float64        `json:"scrollSpeed"`
	ScrollDistance  float64        `json:"scrollDistance"`
	SwipeDirection  string         `json:"swipeDirection"`
	Action          string         `json:"action"`
	FieldName       string         `json:"fieldName"`
	Typing          *typingRequest `json:"typing"`
	ScreenEnteredAt int64          `json:"screenEnteredAt"`
}

func (g gestureRequest) event() gesture.Event {
	ev := gesture.Event{
		Screen:          g.Screen,
		Kind:            g.Kind,
		X:               g.X,
		Y:               g.Y,
		Pressure:        g.Pressure,
		TouchDuration:   g.TouchDuration,
		DX:              g.DX,
		DY:              g.DY,
		VX:              g.VX,
		VY:              g.VY,
		ScrollSpeed:     g.ScrollSpeed,
		ScrollDistance:  g.ScrollDistance,
		SwipeDirection:  g.SwipeDirection,
		Action:          g.Action,
		FieldName:       g.FieldName,
		ScreenEnteredAt: g.ScreenEnteredAt,
	}
	if t := g.Typing; t != nil {
		ev.Typing = &gesture.TypingMeta{
			Characters:      t.Characters,
			Speed:           t.Speed,
			Backspaces:      t.Backspaces,
			TimeBetweenKeys: t.TimeBetweenKeys,
			KeyHoldDuration: t.KeyHoldDuration,
			FieldName:       t.FieldName,
			FinalValueLen:   t.FinalValueLen,
		}
	}
	return ev
}

type skippedResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

func (s *Server) handleGesture(w http.ResponseWriter, r *http.Request) {
	var req gestureRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown gestureType %q", req.Kind))
		return
	}

	out, err := s.guard.LogGesture(r.Context(), req.event())
	if errors.Is(err, gesture.ErrScreenNotSettled) {
		writeJSON(w, http.StatusAccepted, skippedResponse{Skipped: true, Reason: "screen not settled"})
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type reauthRequest struct {
	Success *bool `json:"success"`
}

func (s *Server) handleReauth(w http.ResponseWriter, r *http.Request) {
	var req reauthRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Success == nil {
		writeError(w, http.StatusBadRequest, "success is required")
		return
	}

	out, err := s.guard.CompleteReauth(r.Context(), *req.Success)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.guard.Status(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	res := s.guard.Train(r.Context(), mux.Vars(r)["user"])

	code := http.StatusOK
	switch res.Status {
	case guard.StatusTrainingSkipped:
		code = http.StatusConflict
	case guard.StatusInsufficientData, guard.StatusModelUnavailable:
		code = http.StatusUnprocessableEntity
	case guard.StatusTrainingFailed:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, res)
}

// decode reads a JSON body into v, writing a 400 or 413 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrNoSession), errors.Is(err, gesture.ErrNoSession),
		errors.Is(err, guard.ErrNoPendingPrompt):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, guard.ErrNoUser), errors.Is(err, gesture.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeJSON encodes v before committing the status. Values that cannot be
// encoded are answered with a 500.
func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}
