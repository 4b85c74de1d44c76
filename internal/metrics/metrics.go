package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planner"

type collectors struct {
	generationsInFlight prometheus.Gauge
	generationsQueued   prometheus.Gauge
	generationDuration  *prometheus.HistogramVec
	generationsTotal    *prometheus.CounterVec
	modelAvailable      *prometheus.GaugeVec

	activeSessions   prometheus.Gauge
	sessionsEvicted  prometheus.Counter
	journeysDetected *prometheus.CounterVec
}

var (
	once sync.Once
	inst *collectors
)

func get() *collectors {
	once.Do(func() {
		c := &collectors{
			generationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "generations_in_flight",
				Help:      "Generations currently executing on the model.",
			}),
			generationsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "generations_queued",
				Help:      "Generations waiting for a model slot.",
			}),
			generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall-clock time of model generations by backend.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			}, []string{"backend"}),
			generationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Generations by backend and outcome.",
			}, []string{"backend", "outcome"}),
			modelAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_available",
				Help:      "1 while the loaded model backend is usable.",
			}, []string{"backend"}),
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Conversation sessions held in memory.",
			}),
			sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Sessions removed after their TTL elapsed.",
			}),
			journeysDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journeys_detected_total",
				Help:      "Journey intents recognised, by matching rule.",
			}, []string{"rule"}),
		}

		prometheus.MustRegister(
			c.generationsInFlight,
			c.generationsQueued,
			c.generationDuration,
			c.generationsTotal,
			c.modelAvailable,
			c.activeSessions,
			c.sessionsEvicted,
			c.journeysDetected,
		)
		inst = c
	})
	return inst
}

// Handler exposes the default registry.
func Handler() http.Handler {
	_ = get()
	return promhttp.Handler()
}

// AddInFlight adjusts the executing-generation gauge.
func AddInFlight(delta int) {
	get().generationsInFlight.Add(float64(delta))
}

// AddQueued adjusts the waiting-generation gauge.
func AddQueued(delta int) {
	get().generationsQueued.Add(float64(delta))
}

// RecordGeneration records one finished generation.
func RecordGeneration(backend, outcome string, d time.Duration) {
	m := get()
	m.generationDuration.WithLabelValues(backend).Observe(d.Seconds())
	m.generationsTotal.WithLabelValues(backend, outcome).Inc()
}

// SetModelAvailable flags whether backend can serve traffic.
func SetModelAvailable(backend string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	get().modelAvailable.WithLabelValues(backend).Set(v)
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(n int) {
	get().activeSessions.Set(float64(n))
}

// AddEvicted counts expired sessions removed.
func AddEvicted(n int) {
	if n > 0 {
		get().sessionsEvicted.Add(float64(n))
	}
}

// RecordJourney counts a recognised journey intent.
func RecordJourney(rule string) {
	get().journeysDetected.WithLabelValues(rule).Inc()
}
