// Package telemetry exposes experiment progress as Prometheus metrics.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chord-bench/internal/events"
)

const namespace = "chord_bench"

// Collector はイベントを Prometheus のメトリクスに変換する
type Collector struct {
	registry *prometheus.Registry

	experiments   *prometheus.CounterVec
	throughput    *prometheus.GaugeVec
	keysInserted  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	workers       *prometheus.GaugeVec
	workerSeconds prometheus.Histogram
	workerRate    prometheus.Histogram

	mu          sync.Mutex
	k           string
	consistency string
	states      map[string]string
}

// New は専用のレジストリを持つCollectorを作成する
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		experiments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experiments_total",
			Help:      "Completed experiment configurations by outcome",
		}, []string{"k", "consistency", "outcome"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_keys_per_second",
			Help:      "Aggregate cluster throughput of the last run of each configuration",
		}, []string{"k", "consistency"}),
		keysInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_inserted_total",
			Help:      "Acknowledged insertions",
		}, []string{"k", "consistency"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_transitions_total",
			Help:      "Worker lifecycle transitions by target state",
		}, []string{"state"}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Workers of the current configuration by lifecycle state",
		}, []string{"state"}),
		workerSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_insertion_duration_seconds",
			Help:      "Per-worker time between first and last acknowledged insertion",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		workerRate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_rate_keys_per_second",
			Help:      "Per-worker insertion rate",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		states: make(map[string]string),
	}

	c.registry.MustRegister(
		c.experiments,
		c.throughput,
		c.keysInserted,
		c.transitions,
		c.workers,
		c.workerSeconds,
		c.workerRate,
	)
	return c
}

// Registry はレジストリを返す
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用のハンドラを返す
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe はイベント1件を反映する
func (c *Collector) Observe(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case events.EventExperimentStart:
		c.k = strconv.Itoa(ev.Data.K)
		c.consistency = ev.Data.Consistency
		c.states = make(map[string]string)
		c.workers.Reset()

	case events.EventWorkerState:
		c.transitions.WithLabelValues(ev.Data.State).Inc()
		if prev, ok := c.states[ev.NodeID]; ok {
			c.workers.WithLabelValues(prev).Dec()
		}
		c.states[ev.NodeID] = ev.Data.State
		c.workers.WithLabelValues(ev.Data.State).Inc()

	case events.EventWorkerResult:
		if ev.Data.Count > 0 {
			c.keysInserted.WithLabelValues(c.k, c.consistency).Add(float64(ev.Data.Count))
			c.workerSeconds.Observe(ev.Data.Duration)
			c.workerRate.Observe(ev.Data.Throughput)
		}

	case events.EventExperimentResult:
		k := strconv.Itoa(ev.Data.K)
		outcome := "ok"
		if ev.Data.Error != "" {
			outcome = "failed"
		}
		c.experiments.WithLabelValues(k, ev.Data.Consistency, outcome).Inc()
		c.throughput.WithLabelValues(k, ev.Data.Consistency).Set(ev.Data.Throughput)
	}
}

// Run はチャネルが閉じるか ctx がキャンセルされるまでイベントを反映する
func (c *Collector) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}
