package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rbfnet"

// Metrics holds the Prometheus collectors of one process. Each instance owns
// its registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	trainings        *prometheus.CounterVec
	trainingDuration prometheus.Histogram
	trainingEG       *prometheus.GaugeVec
	pseudoInverse    prometheus.Counter

	predictions   *prometheus.CounterVec
	predictedRows prometheus.Counter
	modelCache    *prometheus.CounterVec

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	websocketClients prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		trainings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "runs_total",
			Help:      "Training runs by problem kind and outcome",
		}, []string{"kind", "outcome"}),
		trainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "duration_seconds",
			Help:      "Wall time of a training run",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		trainingEG: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "last_eg",
			Help:      "Mean absolute error of the latest run per set",
		}, []string{"set"}),
		pseudoInverse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "pseudo_inverse_total",
			Help:      "Runs whose normal equations fell back to the pseudoinverse",
		}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "requests_total",
			Help:      "Prediction requests by outcome",
		}, []string{"outcome"}),
		predictedRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "rows_total",
			Help:      "Rows predicted",
		}),
		modelCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "model_cache_total",
			Help:      "Model cache lookups by result",
		}, []string{"result"}),
		requestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "path"}),
		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Connected training-event websocket clients",
		}),
	}
}

// ObserveTraining records a finished (or failed) run. testEG < 0 means the
// run had no test set.
func (m *Metrics) ObserveTraining(kind, outcome string, d time.Duration, trainEG, testEG float64, pseudoInverse bool) {
	if m == nil {
		return
	}
	m.trainings.WithLabelValues(kind, outcome).Inc()
	m.trainingDuration.Observe(d.Seconds())
	if outcome != "ok" {
		return
	}
	m.trainingEG.WithLabelValues("train").Set(trainEG)
	if testEG >= 0 {
		m.trainingEG.WithLabelValues("test").Set(testEG)
	}
	if pseudoInverse {
		m.pseudoInverse.Inc()
	}
}

func (m *Metrics) ObservePrediction(outcome string, rows int) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(outcome).Inc()
	m.predictedRows.Add(float64(rows))
}

func (m *Metrics) ObserveModelCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.modelCache.WithLabelValues(result).Inc()
}

// ObserveRequest records one HTTP request. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.websocketClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
