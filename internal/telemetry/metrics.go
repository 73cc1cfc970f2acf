package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the counters for the quote pipeline. All methods are
// nil-safe so callers can pass a nil *Metrics to disable instrumentation.
type Metrics struct {
	runsTotal       prometheus.Counter
	runFailures     *prometheus.CounterVec
	stageRetries    *prometheus.CounterVec
	quotesExtracted prometheus.Counter
	fallbacks       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "freightquote_runs_total",
			Help: "Quote pipeline runs started.",
		}),
		runFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freightquote_run_failures_total",
			Help: "Quote pipeline runs aborted, by failure reason.",
		}, []string{"reason"}),
		stageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freightquote_stage_recoveries_total",
			Help: "Recoverable stage failures, by stage.",
		}, []string{"stage"}),
		quotesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "freightquote_carrier_quotes_extracted_total",
			Help: "Carrier quote rows successfully parsed from results pages.",
		}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "freightquote_static_fallbacks_total",
			Help: "Shipping cost computations that fell back to the static price.",
		}),
	}
}

func (m *Metrics) RunStarted() {
	if m != nil {
		m.runsTotal.Inc()
	}
}

func (m *Metrics) RunFailed(reason string) {
	if m != nil {
		m.runFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) StageRecovered(stage string) {
	if m != nil {
		m.stageRetries.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) QuotesExtracted(n int) {
	if m != nil && n > 0 {
		m.quotesExtracted.Add(float64(n))
	}
}

func (m *Metrics) StaticFallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

// Handler exposes the registry over HTTP for scraping.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
