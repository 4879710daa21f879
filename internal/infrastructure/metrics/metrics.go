// Package metrics exposes the service's Prometheus metrics.
//
// Collectors live on a private registry rather than the global default, so
// several instances (tests, one-shot commands) never collide. The Collector
// satisfies the same recorder interfaces as the InfluxDB client and is
// wired next to it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

const namespace = "graylogic_dali"

// Collector records commissioning and light metrics.
//
// Thread Safety: safe for concurrent use.
type Collector struct {
	reg *prometheus.Registry

	runs           *prometheus.CounterVec
	assigned       prometheus.Counter
	unassigned     prometheus.Counter
	verifyFailures prometheus.Counter
	probes         prometheus.Histogram
	duration       prometheus.Histogram
	levels         *prometheus.GaugeVec
}

// New creates a Collector with Go runtime and process collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "runs_total",
			Help:      "Commissioning runs by outcome",
		}, []string{"outcome"}),
		assigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "assigned_total",
			Help:      "Short addresses assigned",
		}),
		unassigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "unassigned_total",
			Help:      "Devices discovered but left without a short address",
		}),
		verifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "verify_failures_total",
			Help:      "Assignments whose read-back verification failed",
		}),
		// A run over 64 devices needs at most 64*25 compare probes.
		probes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "probes",
			Help:      "COMPARE probes issued per run",
			Buckets:   []float64{0, 25, 50, 100, 200, 400, 800, 1600},
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commissioning",
			Name:      "duration_seconds",
			Help:      "Wall time per run",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		levels: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "level",
			Help:      "Last commanded arc power level per target",
		}, []string{"device_id", "measurement"}),
	}
}

// WriteCommissioningRun implements commissioning.MetricsRecorder.
func (c *Collector) WriteCommissioningRun(_ string, outcome string, assigned, unassigned, probes, verifyFailures int, duration time.Duration) {
	c.runs.WithLabelValues(outcome).Inc()
	c.assigned.Add(float64(assigned))
	c.unassigned.Add(float64(unassigned))
	c.verifyFailures.Add(float64(verifyFailures))
	c.probes.Observe(float64(probes))
	c.duration.Observe(duration.Seconds())
}

// WriteDeviceMetric implements dali.MetricsWriter.
func (c *Collector) WriteDeviceMetric(deviceID, measurement string, value float64) {
	c.levels.WithLabelValues(deviceID, measurement).Set(value)
}

// RegisterGateway exports the gateway's counters, read at scrape time.
func (c *Collector) RegisterGateway(gw dali.StatsProvider) {
	f := promauto.With(c.reg)
	counter := func(name, help string, value func(dali.GatewayStats) uint64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(gw.Stats())) })
	}
	counter("frames_sent_total", "Forward frames sent", func(s dali.GatewayStats) uint64 { return s.FramesTx })
	counter("replies_received_total", "Gateway replies received", func(s dali.GatewayStats) uint64 { return s.RepliesRx })
	counter("errors_total", "Transport errors", func(s dali.GatewayStats) uint64 { return s.ErrorsTotal })
	counter("reconnects_total", "Reconnections after a dropped connection", func(s dali.GatewayStats) uint64 { return s.Reconnects })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connected",
		Help:      "1 when the gateway connection is up",
	}, func() float64 {
		if gw.IsConnected() {
			return 1
		}
		return 0
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}
