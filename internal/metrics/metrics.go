// Package metrics provides a small Prometheus-compatible registry and the
// detector's metric set. Output is Prometheus text or JSON, sorted by name.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels are constant label pairs attached to one series.
type Labels map[string]string

// String renders labels in exposition order, or "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	parts := make([]string, 0, len(l))
	for _, k := range sortedKeys(l) {
		parts = append(parts, k+"="+strconv.Quote(l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (l Labels) with(key, value string) Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[key] = value
	return out
}

// desc identifies a series: a family name plus its label values.
type desc struct {
	name   string
	help   string
	labels Labels
}

func (d desc) id() string { return d.name + d.labels.String() }

type collector interface {
	describe() desc
	kind() string
	writeSamples(w io.Writer)
	jsonValue() map[string]any
}

// Counter only goes up.
type Counter struct {
	desc
	value atomic.Uint64
}

func (c *Counter) Inc()          { c.value.Add(1) }
func (c *Counter) Add(v uint64)  { c.value.Add(v) }
func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) describe() desc { return c.desc }
func (c *Counter) kind() string   { return "counter" }

func (c *Counter) writeSamples(w io.Writer) {
	fmt.Fprintf(w, "%s %d\n", c.id(), c.Value())
}

func (c *Counter) jsonValue() map[string]any {
	return map[string]any{"value": c.Value()}
}

// Gauge is a value that can go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Add(v int64)  { g.value.Add(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) describe() desc { return g.desc }
func (g *Gauge) kind() string   { return "gauge" }

func (g *Gauge) writeSamples(w io.Writer) {
	fmt.Fprintf(w, "%s %d\n", g.id(), g.Value())
}

func (g *Gauge) jsonValue() map[string]any {
	return map[string]any{"value": g.Value()}
}

// DurationBuckets are upper bounds for latencies in seconds.
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Histogram counts observations into fixed buckets. Counts are stored per
// bucket and accumulated on read.
type Histogram struct {
	desc
	bounds []float64

	mu     sync.Mutex
	counts []uint64 // len(bounds)+1, last is +Inf
	sum    float64
	count  uint64
}

// NewHistogram builds an unregistered histogram. Nil bounds default to
// DurationBuckets.
func NewHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = DurationBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{
		desc:   desc{name: name, help: help, labels: labels},
		bounds: sorted,
		counts: make([]uint64, len(sorted)+1),
	}
}

// Observe records v. A value equal to a bound falls in that bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Timer starts timing an observation.
func (h *Histogram) Timer() *HistogramTimer {
	return &HistogramTimer{h: h, start: time.Now()}
}

// Buckets returns the bounds and the cumulative count at each, with +Inf last.
func (h *Histogram) Buckets() ([]float64, []uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.bounds...), h.cumulative()
}

func (h *Histogram) cumulative() []uint64 {
	out := make([]uint64, len(h.counts))
	var total uint64
	for i, c := range h.counts {
		total += c
		out[i] = total
	}
	return out
}

func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean is zero before the first observation.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

func (h *Histogram) describe() desc { return h.desc }
func (h *Histogram) kind() string   { return "histogram" }

func (h *Histogram) writeSamples(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := h.cumulative()
	for i, b := range h.bounds {
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, h.labels.with("le", formatBound(b)), cum[i])
	}
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, h.labels.with("le", "+Inf"), cum[len(cum)-1])
	fmt.Fprintf(w, "%s_sum%s %g\n", h.name, h.labels, h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, h.labels, h.count)
}

func (h *Histogram) jsonValue() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := h.cumulative()
	buckets := make(map[string]uint64, len(cum))
	for i, b := range h.bounds {
		buckets[formatBound(b)] = cum[i]
	}
	buckets["+Inf"] = cum[len(cum)-1]
	return map[string]any{"buckets": buckets, "sum": h.sum, "count": h.count}
}

func formatBound(b float64) string {
	return strconv.FormatFloat(b, 'g', -1, 64)
}

// HistogramTimer observes the time since it was started.
type HistogramTimer struct {
	h     *Histogram
	start time.Time
}

// Stop records and returns the elapsed time.
func (t *HistogramTimer) Stop() time.Duration {
	d := time.Since(t.start)
	t.h.ObserveDuration(d)
	return d
}

// Registry holds series keyed by name and labels. Names get the registry's
// namespace and subsystem as a prefix.
type Registry struct {
	prefix string

	mu     sync.RWMutex
	series map[string]collector
}

// NewRegistry creates an empty registry.
func NewRegistry(namespace, subsystem string) *Registry {
	var parts []string
	for _, p := range []string{namespace, subsystem} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	prefix := strings.Join(parts, "_")
	if prefix != "" {
		prefix += "_"
	}
	return &Registry{prefix: prefix, series: make(map[string]collector)}
}

// register returns the existing series for d or stores a new one. Reusing a
// series id with a different metric type panics.
func register[T collector](r *Registry, d desc, build func(desc) T) T {
	d.name = r.prefix + d.name
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.series[d.id()]; ok {
		c, same := existing.(T)
		if !same {
			panic(fmt.Sprintf("metrics: %s already registered as a %s", d.id(), existing.kind()))
		}
		return c
	}
	c := build(d)
	r.series[d.id()] = c
	return c
}

// RegisterCounter returns the counter for name and labels, creating it once.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, desc{name: name, help: help, labels: labels}, func(d desc) *Counter {
		return &Counter{desc: d}
	})
}

// RegisterGauge returns the gauge for name and labels, creating it once.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, desc{name: name, help: help, labels: labels}, func(d desc) *Gauge {
		return &Gauge{desc: d}
	})
}

// RegisterHistogram returns the histogram for name and labels, creating it once.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	return register(r, desc{name: name, help: help, labels: labels}, func(d desc) *Histogram {
		return NewHistogram(d.name, d.help, d.labels, bounds)
	})
}

// GetCounter looks up an unlabeled counter by unprefixed name.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, _ := r.series[r.prefix+name].(*Counter)
	return c
}

// sorted returns series ordered by family name, then labels.
func (r *Registry) sorted() []collector {
	r.mu.RLock()
	out := make([]collector, 0, len(r.series))
	for _, c := range r.series {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].describe(), out[j].describe()
		if a.name != b.name {
			return a.name < b.name
		}
		return a.id() < b.id()
	})
	return out
}

// WritePrometheus writes the text exposition format. HELP and TYPE are
// emitted once per family.
func (r *Registry) WritePrometheus(w io.Writer) error {
	family := ""
	for _, c := range r.sorted() {
		d := c.describe()
		if d.name != family {
			family = d.name
			fmt.Fprintf(w, "# HELP %s %s\n", d.name, d.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", d.name, c.kind())
		}
		c.writeSamples(w)
	}
	return nil
}

// WriteJSON writes every series keyed by its id.
func (r *Registry) WriteJSON(w io.Writer) error {
	out := make(map[string]map[string]any)
	for _, c := range r.sorted() {
		d := c.describe()
		v := c.jsonValue()
		v["type"] = c.kind()
		v["help"] = d.help
		if len(d.labels) > 0 {
			v["labels"] = d.labels
		}
		out[d.id()] = v
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// HTTPHandler serves JSON when the client accepts it and Prometheus text
// otherwise.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			r.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var defaultRegistry = NewRegistry("gestureguard", "")

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// SetDefault replaces the process-wide registry.
func SetDefault(r *Registry) {
	defaultRegistry = r
}
