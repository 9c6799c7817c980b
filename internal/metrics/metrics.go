// Package metrics holds the Prometheus instruments for the monitoring passes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Poll metrics
	PollPasses       prometheus.Counter
	PollDuration     prometheus.Histogram
	ChannelsPolled   prometheus.Counter
	PollFailures     *prometheus.CounterVec
	EventsFetched    prometheus.Counter
	EventsAppended   prometheus.Counter
	EventsDuplicate  prometheus.Counter
	FetchDuration    prometheus.Histogram
	RegisteredTotal  prometheus.Gauge
	RegisteredActive prometheus.Gauge

	// Discovery metrics
	DiscoveryPasses    prometheus.Counter
	Probes             *prometheus.CounterVec
	ChannelsDiscovered *prometheus.CounterVec
	BudgetExhausted    prometheus.Counter

	// Analysis metrics
	Analyses         *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	PendingChannels  prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the singleton registered on the default Prometheus registry
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_poll_passes_total",
			Help: "Total number of poll passes",
		}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipwatch_poll_pass_duration_seconds",
			Help:    "Duration of poll passes in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ChannelsPolled: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_channels_polled_total",
			Help: "Total number of channel polls attempted",
		}),
		PollFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipwatch_poll_failures_total",
				Help: "Total number of failed channel polls",
			},
			[]string{"kind"},
		),
		EventsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_events_fetched_total",
			Help: "Total number of events received from channel sources",
		}),
		EventsAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_events_appended_total",
			Help: "Total number of new events stored",
		}),
		EventsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_events_duplicate_total",
			Help: "Total number of fetched events already stored",
		}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipwatch_fetch_duration_seconds",
			Help:    "Duration of single channel fetches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RegisteredTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "shipwatch_registered_channels",
			Help: "Number of channels in the registry",
		}),
		RegisteredActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "shipwatch_enabled_channels",
			Help: "Number of enabled channels in the registry",
		}),

		DiscoveryPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_discovery_passes_total",
			Help: "Total number of discovery passes",
		}),
		Probes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipwatch_probes_total",
				Help: "Total number of discovery probes by verdict",
			},
			[]string{"verdict"},
		),
		ChannelsDiscovered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipwatch_channels_discovered_total",
				Help: "Total number of channels added by discovery",
			},
			[]string{"method"},
		),
		BudgetExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "shipwatch_discovery_budget_exhausted_total",
			Help: "Total number of discovery passes stopped by the probe budget",
		}),

		Analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipwatch_analyses_total",
				Help: "Total number of analysis calls by result",
			},
			[]string{"result"},
		),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipwatch_analysis_duration_seconds",
			Help:    "Duration of analysis calls in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120},
		}),
		PendingChannels: f.NewGauge(prometheus.GaugeOpts{
			Name: "shipwatch_pending_channels",
			Help: "Channels awaiting a successful analysis after the last evaluation",
		}),
	}
}

// ObserveFetch records one channel fetch and its outcome
func (m *Metrics) ObserveFetch(elapsed time.Duration, fetched, appended int, status types.PollStatus) {
	if m == nil {
		return
	}
	m.ChannelsPolled.Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
	if status != types.PollOK {
		m.PollFailures.WithLabelValues(string(status)).Inc()
		return
	}
	m.EventsFetched.Add(float64(fetched))
	m.EventsAppended.Add(float64(appended))
	m.EventsDuplicate.Add(float64(fetched - appended))
}

// ObservePollPass records a finished poll pass
func (m *Metrics) ObservePollPass(elapsed time.Duration, registered, enabled int) {
	if m == nil {
		return
	}
	m.PollPasses.Inc()
	m.PollDuration.Observe(elapsed.Seconds())
	m.RegisteredTotal.Set(float64(registered))
	m.RegisteredActive.Set(float64(enabled))
}

// ObserveProbe records a probe verdict
func (m *Metrics) ObserveProbe(verdict types.Verdict) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(string(verdict)).Inc()
}

// ObserveDiscoveryPass records a finished discovery pass
func (m *Metrics) ObserveDiscoveryPass(inserted map[types.DiscoveryMethod]int, budgetExhausted bool) {
	if m == nil {
		return
	}
	m.DiscoveryPasses.Inc()
	for method, n := range inserted {
		m.ChannelsDiscovered.WithLabelValues(string(method)).Add(float64(n))
	}
	if budgetExhausted {
		m.BudgetExhausted.Inc()
	}
}

// ObserveAnalysis records one analysis call
func (m *Metrics) ObserveAnalysis(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Analyses.WithLabelValues(result).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
}

// SetPending records how many channels are pending after an evaluation
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingChannels.Set(float64(n))
}
