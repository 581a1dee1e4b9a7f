package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded per channel.
const (
	OutcomeFetched   = "fetched"
	OutcomeAdmitted  = "admitted"
	OutcomeCommitted = "committed"
	OutcomeDeferred  = "deferred"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
)

// Collector owns the process metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	cyclesTotal     *prometheus.CounterVec
	itemsTotal      *prometheus.CounterVec
	selectionsTotal *prometheus.CounterVec
	quotaUsed       prometheus.Gauge
	quotaRemaining  prometheus.Gauge
	sweepDeleted    prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Processing cycles run, by result",
		},
		[]string{"result"},
	)
	c.itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Candidate items by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	c.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Selector runs by the stage that produced the result",
		},
		[]string{"stage"},
	)
	c.quotaUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quota_used_units",
		Help:      "Destination API units used today",
	})
	c.quotaRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "quota_remaining_units",
		Help:      "Destination API units remaining today",
	})
	c.sweepDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_deleted_total",
		Help:      "Published items found missing at the destination",
	})

	c.registry.MustRegister(
		c.cyclesTotal,
		c.itemsTotal,
		c.selectionsTotal,
		c.quotaUsed,
		c.quotaRemaining,
		c.sweepDeleted,
	)
	return c
}

func (c *Collector) CycleFinished(result string) {
	c.cyclesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) Items(channel, outcome string, n int) {
	if n <= 0 {
		return
	}
	c.itemsTotal.WithLabelValues(channel, outcome).Add(float64(n))
}

func (c *Collector) Selection(stage string) {
	c.selectionsTotal.WithLabelValues(stage).Inc()
}

func (c *Collector) Quota(used, remaining int) {
	c.quotaUsed.Set(float64(used))
	c.quotaRemaining.Set(float64(remaining))
}

func (c *Collector) SweepDeleted(n int) {
	if n > 0 {
		c.sweepDeleted.Add(float64(n))
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus metrics HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
