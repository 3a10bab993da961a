package metrics

import (
	"net/http"
	"strconv"
	"time"

	"loventia/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of the chat gateway. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connections         prometheus.Gauge
	rooms               prometheus.Gauge
	deliveries          *prometheus.CounterVec
	droppedBroadcasts   prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg; pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Number of open websocket connections on this instance",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_ws_rooms",
			Help: "Number of conversation rooms with at least one member",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_delivery_transitions_total",
			Help: "Delivery pipeline state transitions",
		}, []string{"state"}),
		droppedBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_ws_dropped_broadcasts_total",
			Help: "Broadcasts not delivered because a member's send buffer was full",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.droppedBroadcasts.Inc()
}

// ObserveDelivery implements usecase.DeliveryObserver.
func (m *Metrics) ObserveDelivery(state usecase.DeliveryState) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(state)).Inc()
}

// Middleware records request count and latency labelled with the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
