package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics records queue processing in the worker and the CLI.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	reclaimedTotal  *prometheus.CounterVec
	breakerOpen     *prometheus.GaugeVec
	poolRunning     prometheus.GaugeFunc
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	return newWorkerMetrics(prometheus.NewRegistry(), service)
}

// newWorkerMetrics registers the processing collectors on registry. The API
// shares them because manual processing and sweeps also run there.
func newWorkerMetrics(registry *prometheus.Registry, service string) *WorkerMetrics {
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "queue_process_total",
			Help:      "Total queue processing invocations by outcome.",
		},
		[]string{"service", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "queue_process_duration_seconds",
			Help:      "Queue item processing duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "queue_process_in_flight",
			Help:      "Number of queue items being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between upload and the first processing attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	reclaimedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docvault",
			Subsystem: "worker",
			Name:      "sweep_reclaimed_total",
			Help:      "Total stuck queue items reclaimed by the health sweep.",
		},
		[]string{"service"},
	)

	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docvault",
			Subsystem: "upstream",
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker of an upstream operation is open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, reclaimedTotal, breakerOpen)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		reclaimedTotal:  reclaimedTotal,
		breakerOpen:     breakerOpen,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterPoolGauge exposes the number of busy pool workers.
func (m *WorkerMetrics) RegisterPoolGauge(running func() int) {
	if m.poolRunning != nil {
		return
	}
	m.poolRunning = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "docvault",
			Subsystem:   "worker",
			Name:        "pool_running",
			Help:        "Number of busy worker pool goroutines.",
			ConstLabels: prometheus.Labels{"service": m.service},
		},
		func() float64 { return float64(running()) },
	)
	m.registry.MustRegister(m.poolRunning)
}

func (m *WorkerMetrics) StartItem() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishItem(duration time.Duration, outcome string) {
	m.processInFlight.Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.processTotal.WithLabelValues(m.service, outcome).Inc()
	m.processDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) AddReclaimed(n int) {
	if n <= 0 {
		return
	}
	m.reclaimedTotal.WithLabelValues(m.service).Add(float64(n))
}

// BreakerStateChanged tracks upstream circuit breakers (language model, OCR,
// event bus).
func (m *WorkerMetrics) BreakerStateChanged(operation string, open bool) {
	value := 0.0
	if open {
		value = 1
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(value)
}
