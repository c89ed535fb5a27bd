// Package metrics exposes filesystem and mirror telemetry to Prometheus.
//
// Components depend on the Recorder interface. Noop is used when metrics are
// disabled, so call sites never check for nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives telemetry from the adapter, the mirror and the remote client.
type Recorder interface {
	// ObserveOp records one filesystem operation. result is "ok" or an
	// error kind such as "not_found" or "transient".
	ObserveOp(op, result string, d time.Duration)
	// RemoteRetry counts a retried remote call.
	RemoteRetry(op string)
	// MirrorEvent counts one applied change event by type.
	MirrorEvent(kind string)
	// MirrorNodes sets the number of mirrored nodes.
	MirrorNodes(n int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) ObserveOp(string, string, time.Duration) {}
func (Noop) RemoteRetry(string)                      {}
func (Noop) MirrorEvent(string)                      {}
func (Noop) MirrorNodes(int)                         {}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	ops          *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	mirrorEvents *prometheus.CounterVec
	mirrorNodes  prometheus.Gauge
}

// New registers the zkfuse collectors with reg.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		ops: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkfuse_operations_total",
				Help: "Filesystem operations by operation and result",
			},
			[]string{"op", "result"},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkfuse_operation_duration_seconds",
				Help:    "Filesystem operation latency in seconds",
				Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"op"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkfuse_remote_retries_total",
				Help: "Remote calls retried after a connection fault",
			},
			[]string{"op"},
		),
		mirrorEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkfuse_mirror_events_total",
				Help: "Change events applied to the mirror by type",
			},
			[]string{"type"},
		),
		mirrorNodes: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "zkfuse_mirror_nodes",
				Help: "Number of nodes in the mirror",
			},
		),
	}
}

func (p *Prometheus) ObserveOp(op, result string, d time.Duration) {
	p.ops.WithLabelValues(op, result).Inc()
	p.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) RemoteRetry(op string) {
	p.retries.WithLabelValues(op).Inc()
}

func (p *Prometheus) MirrorEvent(kind string) {
	p.mirrorEvents.WithLabelValues(kind).Inc()
}

func (p *Prometheus) MirrorNodes(n int) {
	p.mirrorNodes.Set(float64(n))
}

// Handler serves the collectors registered with g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
