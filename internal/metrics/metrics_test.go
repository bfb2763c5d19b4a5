package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-flight/internal/domain"
)

func TestRecord(t *testing.T) {
	p := New()

	p.Record(domain.EventSubmission, 1, map[string]string{"outcome": "cached"})
	p.Record(domain.EventSubmission, 1, map[string]string{"outcome": "cached"})
	p.Record(domain.EventQueueDepth, 7, nil)
	p.Record(domain.EventCacheDrift, 1, nil)
	p.Record(domain.EventBytesStreamed, 512, map[string]string{"direction": "download", "format": "columnar-stream"})
	p.Record("unknown_event", 1, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.submissions.WithLabelValues("cached")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cacheDrift))
	assert.Equal(t, 512.0, testutil.ToFloat64(p.bytesStreamed.WithLabelValues("download", "columnar-stream")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	p := New()
	r := chi.NewRouter()
	r.Use(p.Middleware)
	r.Get("/query/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", p.Handler())

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(p.requestTotal.WithLabelValues(http.MethodGet, "/query/{job_id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "flight_http_requests_total"), "exposition output")
	assert.Contains(t, body, "go_goroutines")
}
