package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-flight/internal/api"
	"duck-flight/internal/db"
	"duck-flight/internal/db/repository"
	"duck-flight/internal/domain"
	"duck-flight/internal/engine"
	"duck-flight/internal/materialize"
	"duck-flight/internal/metrics"
	"duck-flight/internal/objectstore"
	"duck-flight/internal/service/discovery"
	"duck-flight/internal/service/query"
	"duck-flight/internal/testutil"
)

type server struct {
	router http.Handler
	exec   *testutil.ManualExecutor
	store  *objectstore.MemoryStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	pair := db.OpenTestSQLite(t)
	eng, err := engine.Open(ctx, engine.Config{BatchSize: 1000}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	store := objectstore.NewMemoryStore()
	prom := metrics.New()
	mat := materialize.New(eng, store, materialize.Options{Keys: objectstore.Keys{Prefix: "results"}, Logger: logger, Sink: prom})
	exec := &testutil.ManualExecutor{Max: 4}

	svc := query.NewService(query.Deps{
		Registry:     repository.NewJobRepo(pair.Write, pair.Read),
		Store:        store,
		Engine:       eng,
		Materializer: mat,
		Executor:     exec,
		Logger:       logger,
		Sink:         prom,
	}, query.DefaultConfig())
	files := discovery.NewService(store, repository.NewFileRepo(pair.Write, pair.Read), "data/", logger, prom)

	h := api.NewHandler(svc, files, logger)
	return &server{router: api.NewRouter(h, api.RouterOptions{Logger: logger, Metrics: prom}), exec: exec, store: store}
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmit_Inline(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/query", map[string]any{"sql": "SELECT 1 AS x", "inline": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Kind     string           `json:"kind"`
		RowCount int64            `json:"row_count"`
		Rows     []map[string]any `json:"rows"`
		Columns  []map[string]any `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "inline", got.Kind)
	assert.EqualValues(t, 1, got.RowCount)
	require.Len(t, got.Rows, 1)
	assert.InDelta(t, 1, got.Rows[0]["x"], 0.001)
	require.Len(t, got.Columns, 1)
	assert.Equal(t, "x", got.Columns[0]["name"])
}

func TestSubmit_WithoutInlineSchedulesJob(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/query", map[string]any{"sql": "SELECT 1 AS x"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decode[api.SubmitResponse](t, rec)
	assert.Equal(t, query.KindPending, sub.Kind)
	assert.NotEmpty(t, sub.JobID)
	assert.Equal(t, 1, s.exec.Pending())
}

func TestSubmit_BadRequests(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"empty sql", map[string]any{"sql": "  "}, http.StatusBadRequest},
		{"unknown field", map[string]any{"query": "SELECT 1"}, http.StatusBadRequest},
		{"no body", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/query", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			body := decode[map[string]any](t, rec)
			assert.InDelta(t, float64(tt.want), body["code"], 0.001)
		})
	}
}

func TestLargeQueryLifecycle(t *testing.T) {
	s := newServer(t)
	sql := "SELECT range AS n FROM range(50000)"

	rec := s.do(t, http.MethodPost, "/query", map[string]any{"sql": sql, "inline": false})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	sub := decode[api.SubmitResponse](t, rec)
	assert.Equal(t, query.KindPending, sub.Kind)
	assert.Equal(t, domain.JobStatusPending, sub.Status)
	assert.Equal(t, "/query/"+sub.JobID, rec.Header().Get("Location"))

	rec = s.do(t, http.MethodGet, "/query/"+sub.JobID+"/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, sub.JobID, decode[map[string]any](t, rec)["job_id"])

	queue := decode[map[string]any](t, s.do(t, http.MethodGet, "/system/queue", nil))
	assert.InDelta(t, 1, queue["executor_queue_depth"], 0.001)
	assert.InDelta(t, 1, queue["pending_jobs"], 0.001)
	assert.InDelta(t, 4, queue["max_workers"], 0.001)

	s.exec.RunAll(context.Background())

	rec = s.do(t, http.MethodGet, "/query/"+sub.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[api.Job](t, rec)
	assert.Equal(t, domain.JobStatusReady, job.Status)
	require.NotNil(t, job.Format)
	assert.Equal(t, domain.FormatColumnarStream, *job.Format)
	require.NotNil(t, job.RowCount)
	assert.EqualValues(t, 50000, *job.RowCount)
	assert.Equal(t, "/query/"+sub.JobID+"/result", job.ResultURL)

	rec = s.do(t, http.MethodGet, "/query/"+sub.JobID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apache.arrow.stream", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	_, recs, err := materialize.DecodeColumnar(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	var rows int64
	for _, r := range recs {
		rows += r.NumRows()
		r.Release()
	}
	assert.EqualValues(t, 50000, rows)

	rec = s.do(t, http.MethodPost, "/query", map[string]any{"sql": sql})
	require.Equal(t, http.StatusOK, rec.Code)
	cached := decode[api.SubmitResponse](t, rec)
	assert.Equal(t, query.KindCached, cached.Kind)
	assert.Equal(t, sub.JobID, cached.JobID)

	md := decode[map[string]any](t, s.do(t, http.MethodPost, "/query/metadata", map[string]any{"sql": sql}))
	assert.Equal(t, true, md["cached"])
	assert.InDelta(t, 50000, md["num_rows"], 0.001)

	list := decode[map[string]any](t, s.do(t, http.MethodGet, "/query?status=ready", nil))
	assert.InDelta(t, 1, list["total"], 0.001)

	require.NoError(t, s.store.Delete(context.Background(), *job.CacheKey))
	rec = s.do(t, http.MethodGet, "/query/"+sub.JobID+"/result", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestCompressedRowsDownload(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/query", map[string]any{"sql": "SELECT range AS n, 'v' || CAST(range AS VARCHAR) AS s FROM range(10)", "inline": false})
	require.Equal(t, http.StatusAccepted, rec.Code)
	sub := decode[api.SubmitResponse](t, rec)
	s.exec.RunAll(context.Background())

	rec = s.do(t, http.MethodGet, "/query/"+sub.JobID+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, string(domain.FormatCompressedRows), rec.Header().Get("X-Result-Format"))
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))

	rows, err := materialize.DecodeRows(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "v3", rows[3]["s"])
}

func TestFailedJob(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/query", map[string]any{"sql": "SELECT * FROM no_such_table", "inline": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	sub := decode[api.SubmitResponse](t, rec)
	assert.Equal(t, domain.JobStatusError, sub.Status)
	assert.NotEmpty(t, sub.Error)

	rec = s.do(t, http.MethodGet, "/query/"+sub.JobID+"/result", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, decode[map[string]any](t, rec)["detail"])
}

func TestUnknownJob(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/query/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/query/nope/result", nil).Code)
}

func TestSchema(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/query/schema", map[string]any{"sql": "SELECT 1::INTEGER AS a, 'x' AS b"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[query.SchemaResult](t, rec)
	assert.Equal(t, query.SourceEngine, res.Source)
	require.Len(t, res.Columns, 2)
	assert.Equal(t, "a", res.Columns[0].Name)
	assert.Equal(t, "b", res.Columns[1].Name)
}

func TestListJobs_BadParams(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/query?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/query?status=done", nil).Code)
}

func TestFiles(t *testing.T) {
	s := newServer(t)
	for _, key := range []string{"data/a.parquet", "data/b.csv", "data/c.parquet"} {
		_, err := s.store.PutStream(context.Background(), key, bytes.NewReader([]byte(key)), "")
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodPost, "/files/discovery/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 3, decode[map[string]any](t, rec)["files_seen"], 0.001)

	count := decode[map[string]any](t, s.do(t, http.MethodGet, "/files/registry/count?file_type=parquet", nil))
	assert.InDelta(t, 2, count["count"], 0.001)

	list := decode[map[string]any](t, s.do(t, http.MethodGet, "/files/registry?max_results=1", nil))
	assert.InDelta(t, 3, list["total"], 0.001)
	assert.Len(t, list["items"], 1)
	assert.NotEmpty(t, list["next_page_token"])

	types := decode[map[string]any](t, s.do(t, http.MethodGet, "/files/registry/types", nil))
	assert.Len(t, types["types"], 2)

	status := decode[map[string]any](t, s.do(t, http.MethodGet, "/files/discovery/status", nil))
	assert.Equal(t, false, status["running"])
	assert.NotEmpty(t, status["last_scan"])
}

func TestFilesDisabled(t *testing.T) {
	h := api.NewHandler(nil, nil, slog.New(slog.DiscardHandler))
	router := api.NewRouter(h, api.RouterOptions{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/registry", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/query", map[string]any{"sql": "SELECT 1", "inline": true})
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `flight_query_submissions_total{outcome="inline"} 1`)
}
