// Package metrics collects decision and endpoint counters and serves
// them as JSON or Prometheus text.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu          sync.RWMutex
	endpoint    map[string]*EndpointStat
	decision    map[string]int64
	denyDefault map[string]int64
	gauges      map[string]float64
	evalLatency LatencyStat
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type LatencyStat struct {
	Count   int64   `json:"count"`
	TotalUS int64   `json:"total_us"`
	MaxUS   int64   `json:"max_us"`
	LastUS  int64   `json:"last_us"`
	AvgUS   float64 `json:"avg_us"`
}

type Snapshot struct {
	GeneratedAt      string                  `json:"generated_at"`
	Endpoints        map[string]EndpointStat `json:"endpoints"`
	Decisions        map[string]int64        `json:"decisions"`
	DenyByDefault    map[string]int64        `json:"deny_by_default"`
	Gauges           map[string]float64      `json:"gauges"`
	EvalLatencyMicro LatencyStat             `json:"eval_latency_us"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:    map[string]*EndpointStat{},
		decision:    map[string]int64{},
		denyDefault: map[string]int64{},
		gauges:      map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncDecision counts one point-check or filter decision.
func (r *Registry) IncDecision(resource, action string, allowed bool) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	key := resource + "|" + action + "|" + outcome
	r.mu.Lock()
	r.decision[key]++
	r.mu.Unlock()
}

// IncDenyByDefault counts a decision that denied because no policy was
// registered for the key.
func (r *Registry) IncDenyByDefault(resource, action string) {
	if resource == "" || action == "" {
		return
	}
	key := resource + "|" + action
	r.mu.Lock()
	r.denyDefault[key]++
	r.mu.Unlock()
}

// ObserveEvalLatency records one evaluator walk duration.
func (r *Registry) ObserveEvalLatency(d time.Duration) {
	us := d.Microseconds()
	if us < 0 {
		us = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evalLatency.Count++
	r.evalLatency.TotalUS += us
	r.evalLatency.LastUS = us
	if us > r.evalLatency.MaxUS {
		r.evalLatency.MaxUS = us
	}
	r.evalLatency.AvgUS = float64(r.evalLatency.TotalUS) / float64(r.evalLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		Endpoints:        make(map[string]EndpointStat, len(r.endpoint)),
		Decisions:        make(map[string]int64, len(r.decision)),
		DenyByDefault:    make(map[string]int64, len(r.denyDefault)),
		Gauges:           make(map[string]float64, len(r.gauges)),
		EvalLatencyMicro: r.evalLatency,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.decision {
		out.Decisions[k] = v
	}
	for k, v := range r.denyDefault {
		out.DenyByDefault[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP rowguard_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE rowguard_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "rowguard_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP rowguard_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE rowguard_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "rowguard_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP rowguard_decision_total decisions by resource, action, and outcome\n")
		b.WriteString("# TYPE rowguard_decision_total counter\n")
		for _, key := range SortedKeys(snap.Decisions) {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			fmt.Fprintf(b, "rowguard_decision_total{resource=%q,action=%q,outcome=%q} %d\n",
				parts[0], parts[1], parts[2], snap.Decisions[key])
		}
		b.WriteString("# HELP rowguard_deny_by_default_total decisions denied for lack of any policy\n")
		b.WriteString("# TYPE rowguard_deny_by_default_total counter\n")
		for _, key := range SortedKeys(snap.DenyByDefault) {
			parts := strings.SplitN(key, "|", 2)
			if len(parts) != 2 {
				continue
			}
			fmt.Fprintf(b, "rowguard_deny_by_default_total{resource=%q,action=%q} %d\n",
				parts[0], parts[1], snap.DenyByDefault[key])
		}
		b.WriteString("# HELP rowguard_eval_latency_us evaluator walk latency in microseconds\n")
		b.WriteString("# TYPE rowguard_eval_latency_us gauge\n")
		fmt.Fprintf(b, "rowguard_eval_latency_us{stat=%q} %d\n", "last", snap.EvalLatencyMicro.LastUS)
		fmt.Fprintf(b, "rowguard_eval_latency_us{stat=%q} %.3f\n", "avg", snap.EvalLatencyMicro.AvgUS)
		fmt.Fprintf(b, "rowguard_eval_latency_us{stat=%q} %d\n", "max", snap.EvalLatencyMicro.MaxUS)
		b.WriteString("# HELP rowguard_gauge operational gauge metrics\n")
		b.WriteString("# TYPE rowguard_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "rowguard_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
