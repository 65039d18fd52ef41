// Package metrics exposes relay counters on a private Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ircrelay"

// Directive results.
const (
	ResultApplied = "applied"
	ResultRefused = "refused"
	ResultFailed  = "failed"
)

// Collector holds every relay metric. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	Frames          *prometheus.CounterVec
	Replies         prometheus.Counter
	Chunks          prometheus.Counter
	Directives      *prometheus.CounterVec
	GeneratorErrors prometheus.Counter
	Reconnects      prometheus.Counter
	Connected       prometheus.Gauge
	JobRuns         *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound IRC lines by parsed kind.",
		}, []string{"kind"}),
		Replies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Generated replies delivered.",
		}),
		Chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "PRIVMSG chunks written to the server.",
		}),
		Directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Directives found in replies by kind and result.",
		}, []string{"kind", "result"}),
		GeneratorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_errors_total",
			Help:      "Failed generation attempts.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection attempts after a lost session.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a registered session is live.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		c.Frames,
		c.Replies,
		c.Chunks,
		c.Directives,
		c.GeneratorErrors,
		c.Reconnects,
		c.Connected,
		c.JobRuns,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Frame(kind string) {
	if c != nil {
		c.Frames.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) Reply(chunks int) {
	if c == nil {
		return
	}
	c.Replies.Inc()
	c.Chunks.Add(float64(chunks))
}

func (c *Collector) Directive(kind, result string) {
	if c != nil {
		c.Directives.WithLabelValues(kind, result).Inc()
	}
}

func (c *Collector) GeneratorError() {
	if c != nil {
		c.GeneratorErrors.Inc()
	}
}

func (c *Collector) Reconnect() {
	if c != nil {
		c.Reconnects.Inc()
	}
}

func (c *Collector) SetConnected(up bool) {
	if c == nil {
		return
	}
	if up {
		c.Connected.Set(1)
	} else {
		c.Connected.Set(0)
	}
}

func (c *Collector) JobRun(status string) {
	if c != nil {
		c.JobRuns.WithLabelValues(status).Inc()
	}
}
