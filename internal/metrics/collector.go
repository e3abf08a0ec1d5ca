package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus instruments for the health monitor.
type Collector struct {
	attempts      prometheus.Counter
	retries       prometheus.Counter
	cycles        *prometheus.CounterVec
	discarded     prometheus.Counter
	reauth        *prometheus.CounterVec
	connected     prometheus.Gauge
	cycleDuration prometheus.Histogram
}

// NewCollector creates the instruments and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipelinewatch_probe_attempts_total",
			Help: "Liveness attempts made against the deployment",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipelinewatch_probe_retries_total",
			Help: "Inter-attempt delays taken after a failed liveness call",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinewatch_cycles_total",
			Help: "Completed probe cycles by result",
		}, []string{"result"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipelinewatch_cycles_discarded_total",
			Help: "Probe cycles dropped because a newer cycle had already been applied",
		}),
		reauth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelinewatch_reauth_total",
			Help: "Re-authentication attempts by result",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipelinewatch_connected",
			Help: "1 when the deployment is reachable and authenticated",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipelinewatch_cycle_duration_seconds",
			Help:    "Wall time of a probe cycle including retry delays",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.attempts, c.retries, c.cycles, c.discarded, c.reauth, c.connected, c.cycleDuration)
	return c
}

func (c *Collector) ProbeAttempt() { c.attempts.Inc() }

func (c *Collector) ProbeRetry() { c.retries.Inc() }

func (c *Collector) CycleApplied(connected bool, took time.Duration) {
	c.cycles.WithLabelValues(stateLabel(connected)).Inc()
	c.cycleDuration.Observe(took.Seconds())
	if connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}

func (c *Collector) CycleDiscarded() { c.discarded.Inc() }

func (c *Collector) Reauth(err error) {
	if err != nil {
		c.reauth.WithLabelValues("error").Inc()
		return
	}
	c.reauth.WithLabelValues("ok").Inc()
}
