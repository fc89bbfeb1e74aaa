package member

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "guildcache"

// Metrics counts cache lookups and platform fetches. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	lookups  *prometheus.CounterVec
	fetches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lookups_total",
			Help:      "Cache lookups by operation and result (hit or miss).",
		}, []string{"op", "result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "platform_fetches_total",
			Help:      "Platform fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "platform_fetch_duration_seconds",
			Help:      "Platform fetch latency by kind.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "roster_results_total",
			Help:      "Full roster requests that missed the cache, by result status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.fetches, m.duration, m.results)
	}
	return m
}

func (m *Metrics) lookup(op string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(op, result).Inc()
}

func (m *Metrics) lookupN(op string, hits, misses int) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(op, "hit").Add(float64(hits))
	m.lookups.WithLabelValues(op, "miss").Add(float64(misses))
}

func (m *Metrics) fetched(kind string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind, outcome(err)).Inc()
	m.duration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) served(status Status) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(status.String()).Inc()
}

var (
	membersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "guild_members"),
		"Members in the cached snapshot of a guild.",
		[]string{"guild"}, nil,
	)
	ageDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "guild_snapshot_age_seconds"),
		"Age of the cached snapshot of a guild.",
		[]string{"guild"}, nil,
	)
	validDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "guild_snapshot_valid"),
		"1 when the cached snapshot of a guild is inside the TTL.",
		[]string{"guild"}, nil,
	)
	inflightDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricsNamespace, "", "inflight_fetches"),
		"Full member fetches currently running.",
		nil, nil,
	)
)

type statsCollector struct {
	s *Service
}

// Collector exposes the per-guild cache state as gauges.
func (s *Service) Collector() prometheus.Collector {
	return statsCollector{s}
}

func (c statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- membersDesc
	ch <- ageDesc
	ch <- validDesc
	ch <- inflightDesc
}

func (c statsCollector) Collect(ch chan<- prometheus.Metric) {
	var inflight int
	for _, g := range c.s.Stats().Guilds {
		if g.Fetching {
			inflight++
		}
		if g.LastUpdate.IsZero() {
			continue
		}
		valid := 0.0
		if g.Valid {
			valid = 1
		}
		ch <- prometheus.MustNewConstMetric(membersDesc, prometheus.GaugeValue, float64(g.Members), g.GuildID)
		ch <- prometheus.MustNewConstMetric(ageDesc, prometheus.GaugeValue, g.Age.Seconds(), g.GuildID)
		ch <- prometheus.MustNewConstMetric(validDesc, prometheus.GaugeValue, valid, g.GuildID)
	}
	ch <- prometheus.MustNewConstMetric(inflightDesc, prometheus.GaugeValue, float64(inflight))
}
