package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"loventia/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_Nil_Metrics_Records_Nothing(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ClientConnected()
		m.ClientDisconnected()
		m.SetRooms(3)
		m.BroadcastDropped()
		m.ObserveDelivery(usecase.StateFailed)
	})
}

func Test_Gateway_Collectors(t *testing.T) {
	req := require.New(t)
	m := New(prometheus.NewRegistry())

	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	m.SetRooms(4)
	m.BroadcastDropped()
	m.ObserveDelivery(usecase.StatePersisted)
	m.ObserveDelivery(usecase.StatePersisted)

	req.Equal(float64(1), testutil.ToFloat64(m.connections))
	req.Equal(float64(4), testutil.ToFloat64(m.rooms))
	req.Equal(float64(1), testutil.ToFloat64(m.droppedBroadcasts))
	req.Equal(float64(2), testutil.ToFloat64(m.deliveries.WithLabelValues("PERSISTED")))
}

func Test_Middleware_Labels_By_Route_Pattern(t *testing.T) {
	req := require.New(t)
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/messages/{peerId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, peer := range []string{"alice", "bob"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/messages/"+peer, nil))
	}

	req.Equal(float64(2), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/messages/{peerId}", "418")))
}
