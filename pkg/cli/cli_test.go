package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers the routes flightctl uses with canned payloads.
type fakeServer struct {
	*httptest.Server
	statusCalls atomic.Int32
	lastSubmit  map[string]interface{}
	artifact    []byte
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(`[{"id":1,"name":"a"},{"id":2,"name":"b"}]`))
	require.NoError(t, zw.Close())
	fs.artifact = gz.Bytes()

	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.lastSubmit = body
		if body["inline"] != true {
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"kind": "pending", "fingerprint": "fp1", "job_id": "j1", "status": "pending",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"kind": "inline", "fingerprint": "fp0",
			"columns": []map[string]string{{"name": "answer", "type": "int32"}, {"name": "label", "type": "utf8"}},
			"rows":    []map[string]interface{}{{"answer": 42, "label": "life"}, {"answer": 7, "label": nil}},
		})
	})
	mux.HandleFunc("GET /query", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]interface{}{
				{"job_id": "j1", "status": "ready", "format": "compressed-rows", "row_count": 2, "sql": "SELECT\n  *  FROM t", "created_at": created},
			},
			"total":           3,
			"next_page_token": "MQ",
		})
	})
	mux.HandleFunc("GET /query/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "j1" {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"code": 404, "message": "job not found"})
			return
		}
		status := "pending"
		if fs.statusCalls.Add(1) >= 2 {
			status = "ready"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": "j1", "status": status, "fingerprint": "fp1", "created_at": created,
		})
	})
	mux.HandleFunc("GET /query/{id}/result", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("X-Result-Format", "compressed-rows")
		_, _ = w.Write(fs.artifact)
	})
	mux.HandleFunc("POST /query/schema", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"fingerprint": "fp0", "source": "engine",
			"columns": []map[string]string{{"name": "answer", "type": "int32"}},
		})
	})
	mux.HandleFunc("POST /query/metadata", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"fingerprint": "fp0", "cached": false, "num_columns": 1,
			"schema": []map[string]string{{"name": "answer", "type": "int32"}},
		})
	})
	mux.HandleFunc("GET /system/queue", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"executor_queue_depth": 3, "active_workers": 2, "max_workers": 4, "pending_jobs": 5,
			"jobs": map[string]int{"pending_count": 5, "ready_count": 9, "error_count": 1, "total": 15},
		})
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FLIGHTCTL_CONFIG_DIR", t.TempDir())
	t.Setenv("FLIGHT_HOST", "")
	t.Setenv("FLIGHT_OUTPUT", "")
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSubmit_InlineTable(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "submit", "--inline", "SELECT", "42")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "SELECT 42", srv.lastSubmit["sql"])
	assert.Equal(t, true, srv.lastSubmit["inline"])
	assert.Contains(t, out, "ANSWER")
	assert.Contains(t, out, "LABEL")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "life")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "(2 rows)")
}

func TestSubmit_Wait(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "-o", "json", "submit", "--wait", "--interval", "1ms", "SELECT 1")
	require.Equal(t, 0, code, errOut)
	assert.NotContains(t, srv.lastSubmit, "inline")

	var job map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "ready", job["status"])
	assert.GreaterOrEqual(t, srv.statusCalls.Load(), int32(2))
}

func TestSubmit_FromStdin(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetArgs([]string{"--host", srv.URL, "submit", "-"})
	cmd.SetIn(strings.NewReader("SELECT 'piped'"))
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "SELECT 'piped'", srv.lastSubmit["sql"])
}

func TestSubmit_RequiresSQL(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, _, errOut := runCLI(t, "--host", srv.URL, "submit")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "SQL is required")
}

func TestSubmit_FromFile(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)
	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 3"), 0o600))

	code, _, errOut := runCLI(t, "--host", srv.URL, "submit", "-f", path)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "SELECT 3", srv.lastSubmit["sql"])
}

func TestStatus(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "status", "j1")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Job ID:")
	assert.Contains(t, out, "j1")
	assert.Contains(t, out, "pending")
}

func TestStatus_NotFound(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, _, errOut := runCLI(t, "--host", srv.URL, "status", "nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "HTTP 404: job not found")
}

func TestStatus_NotFoundJSON(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, _ := runCLI(t, "--host", srv.URL, "-o", "json", "status", "nope")
	assert.Equal(t, 1, code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, float64(404), body["http_status"])
	assert.Contains(t, body["error"], "job not found")
}

func TestDownload_ToFile(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)
	path := filepath.Join(t.TempDir(), "result.json.gz")

	code, _, errOut := runCLI(t, "--host", srv.URL, "download", "j1", "--file", path)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "compressed-rows")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, srv.artifact, got)
}

func TestDownload_Decode(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "download", "j1", "--decode")
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":2,"name":"b"}`, lines[1])
}

func TestSchemaAndMetadata(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "schema", "SELECT 42 AS answer")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "answer")
	assert.Contains(t, out, "int32")

	code, out, errOut = runCLI(t, "--host", srv.URL, "metadata", "SELECT 42 AS answer")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Cached:")
	assert.Contains(t, out, "false")
	assert.Contains(t, out, "int32")
}

func TestHistory(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "history", "--status", "ready")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "JOB_ID")
	assert.Contains(t, out, "compressed-rows")
	assert.Contains(t, out, "SELECT * FROM t")
	assert.Contains(t, out, "--page-token MQ")
}

func TestQueueAndHealth(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, out, errOut := runCLI(t, "--host", srv.URL, "queue")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "2/4")
	assert.Contains(t, out, "9")

	code, out, errOut = runCLI(t, "--host", srv.URL, "health")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "is healthy")
}

func TestRoot_InvalidOutputAndHost(t *testing.T) {
	isolateEnv(t)

	code, _, errOut := runCLI(t, "-o", "yaml", "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unsupported output format")

	code, _, errOut = runCLI(t, "--host", "localhost:8000", "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "scheme must be http or https")
}

func TestRoot_EnvHost(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)
	t.Setenv("FLIGHT_HOST", srv.URL)

	code, _, errOut := runCLI(t, "health")
	assert.Equal(t, 0, code, errOut)
}

func TestConfigProfiles(t *testing.T) {
	isolateEnv(t)
	srv := newFakeServer(t)

	code, _, errOut := runCLI(t, "config", "set-profile", "--name", "local", "--profile-host", srv.URL+"/", "--default-output", "json")
	require.Equal(t, 0, code, errOut)
	code, _, errOut = runCLI(t, "config", "use-profile", "local")
	require.Equal(t, 0, code, errOut)

	// Host and output come from the active profile.
	code, out, errOut := runCLI(t, "queue")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"max_workers": 4`)

	// The active profile outputs json, so errors are reported on stdout.
	code, out, _ = runCLI(t, "config", "use-profile", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, jsonError(t, out), `profile "missing" not found`)

	// An unknown --profile fails before any output format is resolved.
	code, out, errOut = runCLI(t, "--profile", "missing", "version")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, `profile "missing" not found`)
}

func jsonError(t *testing.T, out string) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body), out)
	msg, _ := body["error"].(string)
	return msg
}

func TestVersion(t *testing.T) {
	isolateEnv(t)

	code, out, _ := runCLI(t, "version")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "flightctl version dev")

	code, out, _ = runCLI(t, "-o", "json", "version")
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, out)
}

func TestCompletion(t *testing.T) {
	isolateEnv(t)

	code, out, _ := runCLI(t, "completion", "bash")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "flightctl")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, []string{"name", "type"}, [][]string{{"id", "int64"}, {"label", "utf8"}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Equal(t, strings.Index(lines[0], "TYPE"), strings.Index(lines[1], "int64"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncate("SELECT\n\t1", 20))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
