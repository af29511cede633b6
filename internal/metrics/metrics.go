package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. Recording methods are safe to call
// on a nil Registry, which records nothing.
type Registry struct {
	*prometheus.Registry

	// Collector HTTP metrics
	collectorRequestsTotal   *prometheus.CounterVec
	collectorRequestDuration *prometheus.HistogramVec
	collectorRequestsActive  prometheus.Gauge

	// Business metrics
	signalsEvaluated *prometheus.CounterVec
	screenRuns       prometheus.Counter
	screenDuration   prometheus.Histogram
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	tradesTotal      *prometheus.CounterVec
	entriesSkipped   *prometheus.CounterVec
	barsDropped      prometheus.Counter
	symbolsDropped   prometheus.Counter
	universeSymbols  prometheus.Gauge
	finalEquity      prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		collectorRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screener_collector_requests_total",
				Help: "Total number of market data requests",
			},
			[]string{"collector", "status"},
		),

		collectorRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "screener_collector_request_duration_seconds",
				Help:    "Market data request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collector"},
		),

		collectorRequestsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "screener_collector_requests_in_flight",
				Help: "Number of market data requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.collectorRequestsTotal)
	reg.MustRegister(r.collectorRequestDuration)
	reg.MustRegister(r.collectorRequestsActive)

	// Business metrics
	r.signalsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_signals_evaluated_total",
			Help: "Total number of signals evaluated",
		},
		[]string{"strategy", "selected"},
	)
	r.screenRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screener_screen_runs_total",
			Help: "Total number of screening runs completed",
		},
	)
	r.screenDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screener_screen_duration_seconds",
			Help:    "Screening run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_backtests_total",
			Help: "Total number of backtests",
		},
		[]string{"status"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screener_backtest_duration_seconds",
			Help:    "Backtest duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_trades_total",
			Help: "Total number of simulated round trips",
		},
		[]string{"exit_reason"},
	)
	r.entriesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screener_entries_skipped_total",
			Help: "Total number of selected signals that could not be entered",
		},
		[]string{"reason"},
	)
	r.barsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screener_bars_dropped_total",
			Help: "Total number of malformed or duplicate bars dropped",
		},
	)
	r.symbolsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "screener_symbols_dropped_total",
			Help: "Total number of symbols dropped for lack of data",
		},
	)
	r.universeSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screener_universe_symbols",
			Help: "Number of symbols in the universe",
		},
	)
	r.finalEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "screener_backtest_final_equity",
			Help: "Final equity of the last backtest",
		},
	)

	reg.MustRegister(r.signalsEvaluated)
	reg.MustRegister(r.screenRuns)
	reg.MustRegister(r.screenDuration)
	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.entriesSkipped)
	reg.MustRegister(r.barsDropped)
	reg.MustRegister(r.symbolsDropped)
	reg.MustRegister(r.universeSymbols)
	reg.MustRegister(r.finalEquity)

	return r
}

// RecordRequest records metrics for a collector request.
func (r *Registry) RecordRequest(collector string, status int, duration float64) {
	if r == nil {
		return
	}
	r.collectorRequestsTotal.WithLabelValues(collector, statusToString(status)).Inc()
	r.collectorRequestDuration.WithLabelValues(collector).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.collectorRequestsActive.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.collectorRequestsActive.Dec()
}

// RecordSignal records an evaluated signal.
func (r *Registry) RecordSignal(strategy string, selected bool) {
	if r == nil {
		return
	}
	label := "false"
	if selected {
		label = "true"
	}
	r.signalsEvaluated.WithLabelValues(strategy, label).Inc()
}

// RecordScreen records a screening run completion.
func (r *Registry) RecordScreen(duration float64) {
	if r == nil {
		return
	}
	r.screenRuns.Inc()
	r.screenDuration.Observe(duration)
}

// RecordBacktest records a backtest completion.
func (r *Registry) RecordBacktest(status string, duration float64) {
	if r == nil {
		return
	}
	r.backtestsTotal.WithLabelValues(status).Inc()
	r.backtestDuration.Observe(duration)
}

// RecordTrade records a closed round trip.
func (r *Registry) RecordTrade(exitReason string) {
	if r == nil {
		return
	}
	r.tradesTotal.WithLabelValues(exitReason).Inc()
}

// RecordSkip records an entry that could not be filled.
func (r *Registry) RecordSkip(reason string) {
	if r == nil {
		return
	}
	r.entriesSkipped.WithLabelValues(reason).Inc()
}

// AddBarsDropped counts bars removed during sanitizing.
func (r *Registry) AddBarsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.barsDropped.Add(float64(n))
}

// AddSymbolsDropped counts symbols removed from the universe.
func (r *Registry) AddSymbolsDropped(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.symbolsDropped.Add(float64(n))
}

// SetUniverseSize sets the universe size.
func (r *Registry) SetUniverseSize(size int) {
	if r == nil {
		return
	}
	r.universeSymbols.Set(float64(size))
}

// SetFinalEquity sets the final equity of the last backtest.
func (r *Registry) SetFinalEquity(equity float64) {
	if r == nil {
		return
	}
	r.finalEquity.Set(equity)
}

// WriteTextfile writes all gathered metrics to path in the text exposition
// format, for pickup by a node exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry)
}

func statusToString(status int) string {
	switch {
	case status == 0:
		return "error"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
