// Package health aggregates component checks for the gestureguard service
// and serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gestureguard/internal/artifact"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded" // functional with an optional capability missing
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown" // not checked yet
)

// DefaultTimeout bounds a single check when the component sets none.
const DefaultTimeout = 5 * time.Second

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

func healthy(msg string) CheckResult {
	return CheckResult{Status: StatusHealthy, Message: msg}
}

func unhealthy(msg string, err error) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Message: msg, Error: err.Error()}
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component is a named check. A failing critical component makes the
// service unhealthy; a failing optional one only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs registered checks and keeps their last results.
type Checker struct {
	started time.Time

	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	ready      bool
}

// NewChecker creates a Checker that is not ready until SetReady(true).
func NewChecker() *Checker {
	return &Checker{
		started:    time.Now(),
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
	}
}

// Register adds or replaces a component. Its status is unknown until the
// next Check.
func (c *Checker) Register(component *Component) {
	if component.Timeout <= 0 {
		component.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
	c.mu.Unlock()
}

// RegisterFunc registers check under name with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every component concurrently and returns the fresh results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, comp := range components {
		comp := comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.run(ctx, comp)
			rmu.Lock()
			results[comp.Name] = res
			rmu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// run executes one component and stores its result.
func (c *Checker) run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	res := runCheck(ctx, comp.Check)
	res.LastChecked = start
	res.Duration = time.Since(start)

	c.mu.Lock()
	if _, ok := c.components[comp.Name]; ok {
		c.results[comp.Name] = res
	}
	c.mu.Unlock()
	return res
}

// runCheck recovers panics and gives up when ctx expires. The buffered
// channel lets an abandoned check finish without blocking.
func runCheck(ctx context.Context, check Check) CheckResult {
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- check(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return unhealthy("check timed out", ctx.Err())
	}
}

// OverallStatus folds the last results: any failing critical component is
// unhealthy, an unchecked critical one is unknown, anything else failing is
// degraded.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for name, res := range c.results {
		critical := c.components[name].Critical
		switch {
		case res.Status == StatusUnhealthy && critical:
			return StatusUnhealthy
		case res.Status == StatusUnknown && critical:
			overall = StatusUnknown
		case res.Status == StatusUnhealthy, res.Status == StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HealthResponse runs the checks and reports the aggregate. Component
// results are included on request.
func (c *Checker) HealthResponse(ctx context.Context, includeComponents bool) HealthResponse {
	results := c.Check(ctx)
	resp := HealthResponse{
		Status:    c.OverallStatus(),
		Ready:     c.IsReady(),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if includeComponents {
		resp.Components = results
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpCode maps a status to a probe response code; degraded still serves.
func httpCode(s Status) int {
	if s == StatusHealthy || s == StatusDegraded {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// LivenessHandler answers as long as the process can serve HTTP.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now()})
	})
}

// ReadinessHandler fails until SetReady(true) and while a critical check fails.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "timestamp": time.Now()})
			return
		}
		c.Check(r.Context())
		status := c.OverallStatus()
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "ready": true, "timestamp": time.Now()})
	})
}

// HealthHandler serves the aggregate; ?full=true adds per-component results.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.HealthResponse(r.Context(), r.URL.Query().Get("full") == "true")
		writeJSON(w, httpCode(resp.Status), resp)
	})
}

// DatabaseCheck wraps a ping.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return unhealthy("database connection failed", err)
		}
		return healthy("database connection ok")
	}
}

// ArtifactStoreCheck loads a key that never holds a model. Reaching the
// backend and getting ErrNotFound (or data) means the store is usable.
func ArtifactStoreCheck(store artifact.Store) Check {
	return func(ctx context.Context) CheckResult {
		_, err := store.Load(ctx, artifact.ModelKey("healthcheck"))
		if err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return unhealthy("artifact store unreachable", err)
		}
		res := healthy("artifact store ok")
		res.Details = map[string]any{"backend": fmt.Sprintf("%T", store)}
		return res
	}
}

// AvailabilityCheck reports degraded rather than unhealthy when an optional
// capability, such as a fingerprint reader, is missing.
func AvailabilityCheck(name string, available func(ctx context.Context) bool) Check {
	return func(ctx context.Context) CheckResult {
		if !available(ctx) {
			return CheckResult{Status: StatusDegraded, Message: name + " unavailable"}
		}
		return healthy(name + " available")
	}
}

// CustomCheck adapts a plain error-returning function.
func CustomCheck(fn func() error) Check {
	return func(context.Context) CheckResult {
		if err := fn(); err != nil {
			return unhealthy("check failed", err)
		}
		return healthy("check passed")
	}
}
