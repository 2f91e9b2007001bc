// Package metrics provides in-memory runtime statistics and their Prometheus
// exposition.
package metrics

import (
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds     float64                       `json:"uptimeSeconds"`
	Operations        map[string]*OperationSnapshot `json:"operations"`
	BatchesAccepted   int64                         `json:"batchesAccepted"`
	BatchesRejected   int64                         `json:"batchesRejected"`
	OwnershipGrants   int64                         `json:"ownershipGrants"`
	RecordsDispatched int64                         `json:"recordsDispatched"`
	RecordsFailed     int64                         `json:"recordsFailed"`
}

// OperationNames returns the recorded operation names in sorted order.
func (s Snapshot) OperationNames() []string {
	names := make([]string, 0, len(s.Operations))
	for name := range s.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operation names for the collector.
const (
	OpEntityExists = "entity_exists"
	OpOwnersOf     = "owners_of"
	OpGroupsOf     = "groups_of"
	OpValidate     = "validate"
	OpDispatch     = "dispatch"
	OpUpload       = "upload"
	OpMutation     = "mutation"
)

// Collector aggregates in-memory runtime statistics and mirrors them into a
// Prometheus registry. All methods are thread-safe and a nil *Collector is a
// no-op.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	batchesAccepted   int64
	batchesRejected   int64
	ownershipGrants   int64
	recordsDispatched int64
	recordsFailed     int64

	registry   *prometheus.Registry
	durations  *prometheus.HistogramVec
	failures   *prometheus.CounterVec
	batches    *prometheus.CounterVec
	grants     prometheus.Counter
	dispatched *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		registry:  prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datahub_gate",
			Name:      "operation_duration_seconds",
			Help:      "Duration of gate operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datahub_gate",
			Name:      "operation_failures_total",
			Help:      "Failed gate operations.",
		}, []string{"op"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datahub_gate",
			Name:      "batches_total",
			Help:      "Validated upload batches by verdict.",
		}, []string{"verdict"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datahub_gate",
			Name:      "ownership_grants_total",
			Help:      "Ownership proposals synthesized for submitters.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datahub_gate",
			Name:      "records_dispatched_total",
			Help:      "Records handed to the catalog by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.durations, c.failures, c.batches, c.grants, c.dispatched,
	)
	return c
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
	c.durations.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFailure counts a failed operation. Its timing is recorded as well.
func (c *Collector) RecordFailure(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.RecordTiming(op, duration)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[op].Failures++
	c.failures.WithLabelValues(op).Inc()
}

// RecordVerdict counts a validated batch and the ownership grants it needed.
func (c *Collector) RecordVerdict(accepted bool, grants int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if accepted {
		c.batchesAccepted++
		c.batches.WithLabelValues("accepted").Inc()
	} else {
		c.batchesRejected++
		c.batches.WithLabelValues("rejected").Inc()
	}
	c.ownershipGrants += int64(grants)
	c.grants.Add(float64(grants))
}

// RecordDispatch counts records written to and rejected by the catalog.
func (c *Collector) RecordDispatch(written, failed int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordsDispatched += int64(written)
	c.recordsFailed += int64(failed)
	c.dispatched.WithLabelValues("written").Add(float64(written))
	c.dispatched.WithLabelValues("failed").Add(float64(failed))
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]*OperationSnapshot, len(c.ops))
	for name, m := range c.ops {
		if snap := snapshotOp(m); snap != nil {
			ops[name] = snap
		}
	}
	return Snapshot{
		UptimeSeconds:     time.Since(c.startTime).Seconds(),
		Operations:        ops,
		BatchesAccepted:   c.batchesAccepted,
		BatchesRejected:   c.batchesRejected,
		OwnershipGrants:   c.ownershipGrants,
		RecordsDispatched: c.recordsDispatched,
		RecordsFailed:     c.recordsFailed,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
