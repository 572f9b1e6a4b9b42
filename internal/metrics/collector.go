// Package metrics keeps the bridge's counters and serves them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry served on the metrics endpoint.
var Collector = NewRegistry()

// Registry holds metric families by name.
type Registry struct {
	mu       sync.Mutex
	families map[string]family
	start    time.Time
}

type family interface {
	writeTo(w io.Writer)
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]family), start: time.Now()}
}

// Uptime is the time since the registry was created.
func (r *Registry) Uptime() time.Duration { return time.Since(r.start) }

// register returns the family already stored under name, or stores f.
// Registering one name as two kinds is a programming error.
func register[T family](r *Registry, name string, f T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.families[name]; ok {
		typed, ok := existing.(T)
		if !ok {
			panic(fmt.Sprintf("metrics: %s registered as %T", name, existing))
		}
		return typed
	}
	r.families[name] = f
	return f
}

// Counter only goes up.
type Counter struct {
	name, help string
	value      atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) writeTo(w io.Writer) {
	header(w, c.name, c.help, "counter")
	fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
}

func (r *Registry) Counter(name, help string) *Counter {
	return register(r, name, &Counter{name: name, help: help})
}

// CounterVec is a counter family split by one label, e.g. attachment kind
// or delivery outcome.
type CounterVec struct {
	name, help, label string

	mu       sync.RWMutex
	children map[string]*Counter
}

// With returns the counter for one label value, creating it on first use.
func (v *CounterVec) With(value string) *Counter {
	v.mu.RLock()
	c, ok := v.children[value]
	v.mu.RUnlock()
	if ok {
		return c
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.children[value]; ok {
		return c
	}
	c = &Counter{name: v.name}
	v.children[value] = c
	return c
}

func (v *CounterVec) writeTo(w io.Writer) {
	header(w, v.name, v.help, "counter")
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, value := range sortedKeys(v.children) {
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", v.name, v.label, labelEscaper.Replace(value), v.children[value].Value())
	}
}

func (r *Registry) CounterVec(name, help, label string) *CounterVec {
	return register(r, name, &CounterVec{name: name, help: help, label: label, children: make(map[string]*Counter)})
}

// Gauge goes up and down.
type Gauge struct {
	name, help string
	value      atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) writeTo(w io.Writer) {
	header(w, g.name, g.help, "gauge")
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

func (r *Registry) Gauge(name, help string) *Gauge {
	return register(r, name, &Gauge{name: name, help: help})
}

// Histogram counts observations per upper bound. Buckets are stored
// non-cumulative and summed when rendered.
type Histogram struct {
	name, help string
	bounds     []float64

	mu     sync.Mutex
	counts []int64 // len(bounds)+1, last is +Inf
	total  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	h.counts[i]++
	h.total++
	h.sum += v
	h.mu.Unlock()
}

func (h *Histogram) writeTo(w io.Writer) {
	header(w, h.name, h.help, "histogram")
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum int64
	for i, le := range h.bounds {
		cum += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", h.name, le, cum)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.total)
	fmt.Fprintf(w, "%s_sum %g\n", h.name, h.sum)
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.total)
}

func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	bounds = slices.Clone(bounds)
	slices.Sort(bounds)
	return register(r, name, &Histogram{name: name, help: help, bounds: bounds, counts: make([]int64, len(bounds)+1)})
}

// Handler renders every family sorted by name, after the uptime gauge.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		header(&sb, "chatbridge_uptime_seconds", "Time since start in seconds", "gauge")
		fmt.Fprintf(&sb, "chatbridge_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

		r.mu.Lock()
		names := sortedKeys(r.families)
		fams := make([]family, len(names))
		for i, n := range names {
			fams[i] = r.families[n]
		}
		r.mu.Unlock()

		for _, f := range fams {
			f.writeTo(&sb)
		}
		io.WriteString(w, sb.String())
	}
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func header(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reply delivery outcomes.
const (
	OutcomeBuffered = "buffered"
	OutcomePushed   = "pushed"
	OutcomeQueued   = "queued"
)

// Rejection reasons.
const (
	ReasonTooLarge          = "too_large"
	ReasonUnsupportedUpload = "unsupported_attachment"
	ReasonThrottled         = "throttled"
	ReasonNoDriver          = "no_matching_driver"
)

var (
	InboundMessages     = Collector.Counter("chatbridge_inbound_messages_total", "Inbound webhook messages normalized")
	UnsupportedMessages = Collector.Counter("chatbridge_unsupported_messages_total", "Outbound values of unsupported type")
	Replies             = Collector.CounterVec("chatbridge_replies_total", "Outbound replies by delivery outcome", "outcome")
	Rejected            = Collector.CounterVec("chatbridge_rejected_requests_total", "Requests refused before normalization", "reason")
	AttachmentsStored   = Collector.CounterVec("chatbridge_attachments_total", "Attachments stored by kind", "kind")
	WebSocketClients    = Collector.Gauge("chatbridge_websocket_clients", "Current websocket subscribers")

	PushLatency = Collector.Histogram("chatbridge_push_latency_seconds", "Real-time push latency in seconds",
		[]float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5})
)
