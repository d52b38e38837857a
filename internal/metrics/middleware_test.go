package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/probe/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "202"))
	goneBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "410"))

	for _, path := range []string{"/probe/1", "/probe/2", "/gone"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "202")) - okBefore; val != 2 {
		t.Errorf("expected 2 requests with code 202, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "410")) - goneBefore; val != 1 {
		t.Errorf("expected 1 request with code 410, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected http_request_duration_seconds to be observed, got %d", val)
	}
}
