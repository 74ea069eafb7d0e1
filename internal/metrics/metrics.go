// Package metrics holds the Prometheus collectors of the bot and the small
// HTTP side listener that exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labelspy"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "events_total",
			Help:      "Inbound chat events handled, by event and outcome kind.",
		},
		[]string{"event", "outcome"},
	)

	activeMailboxes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "active_users",
			Help:      "Users with queued or running events.",
		},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "External provider calls, by gateway and outcome kind.",
		},
		[]string{"gateway", "outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Duration of external provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"gateway"},
	)

	historyWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "writes_total",
			Help:      "History appends, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		eventsTotal,
		activeMailboxes,
		gatewayCalls,
		gatewayDuration,
		historyWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveEvent counts one handled inbound event.
func ObserveEvent(event, outcome string) {
	eventsTotal.WithLabelValues(event, outcome).Inc()
}

// SetActiveUsers records how many per-user mailboxes are alive.
func SetActiveUsers(n int) {
	activeMailboxes.Set(float64(n))
}

// ObserveGateway records one provider call.
func ObserveGateway(gateway, outcome string, d time.Duration) {
	gatewayCalls.WithLabelValues(gateway, outcome).Inc()
	gatewayDuration.WithLabelValues(gateway).Observe(d.Seconds())
}

// ObserveHistoryWrite counts one history append.
func ObserveHistoryWrite(outcome string) {
	historyWrites.WithLabelValues(outcome).Inc()
}

// NewRouter serves /metrics and /healthz. ready may be nil.
func NewRouter(ready func() error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
