package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveCommand(t *testing.T) {
	m := New()

	m.ObserveCommand("skip", "")
	m.ObserveCommand("skip", "not_playing")
	m.ObserveCommand("skip", "not_playing")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("skip", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("skip", "not_playing")))
}

func TestMetrics_ObserveResolve(t *testing.T) {
	m := New()

	m.ObserveResolve(200*time.Millisecond, nil)
	m.ObserveResolve(time.Second, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.ResolveDuration))
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/rooms/{id}", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPActive))

	m.SessionsActive.Set(3)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voicebox_sessions_active 3")
	assert.Contains(t, rec.Body.String(), `voicebox_http_requests_total{method="GET",route="/rooms/{id}",status="418"} 2`)
}
