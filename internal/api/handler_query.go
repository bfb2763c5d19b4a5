package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"duck-flight/internal/domain"
	"duck-flight/internal/materialize"
	"duck-flight/internal/service/query"
)

// Job is the wire form of a job record.
type Job struct {
	JobID       string               `json:"job_id"`
	Fingerprint string               `json:"fingerprint"`
	SQL         string               `json:"sql"`
	Status      domain.JobStatus     `json:"status"`
	Format      *domain.ResultFormat `json:"format,omitempty"`
	CacheKey    *string              `json:"cache_key,omitempty"`
	RowCount    *int64               `json:"row_count,omitempty"`
	ByteSize    *int64               `json:"byte_size,omitempty"`
	Error       *string              `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	ResultURL   string               `json:"result_url,omitempty"`
}

func jobToAPI(j domain.Job) Job {
	out := Job{
		JobID:       j.ID,
		Fingerprint: j.Fingerprint,
		SQL:         j.SQLText,
		Status:      j.Status,
		Format:      j.Format,
		CacheKey:    j.CacheKey,
		RowCount:    j.RowCount,
		ByteSize:    j.ByteSize,
		Error:       j.ErrorDetail,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Status == domain.JobStatusReady {
		out.ResultURL = resultURL(j.ID)
	}
	return out
}

func resultURL(jobID string) string { return "/query/" + jobID + "/result" }

// SubmitRequest is the body of POST /query.
type SubmitRequest struct {
	SQL    string `json:"sql"`
	Inline *bool  `json:"inline,omitempty"`
}

// SubmitResponse is the answer to POST /query.
type SubmitResponse struct {
	Kind        query.Kind           `json:"kind"`
	Fingerprint string               `json:"fingerprint"`
	JobID       string               `json:"job_id,omitempty"`
	Status      domain.JobStatus     `json:"status,omitempty"`
	CacheKey    string               `json:"cache_key,omitempty"`
	Format      domain.ResultFormat  `json:"format,omitempty"`
	RowCount    *int64               `json:"row_count,omitempty"`
	Error       string               `json:"error,omitempty"`
	ResultURL   string               `json:"result_url,omitempty"`
	Columns     []materialize.Column `json:"columns,omitempty"`
	Rows        interface{}          `json:"rows,omitempty"`
}

func submitToAPI(res *query.SubmitResult) (int, SubmitResponse) {
	out := SubmitResponse{
		Kind:        res.Kind,
		Fingerprint: res.Fingerprint,
		JobID:       res.JobID,
		Status:      res.Status,
		CacheKey:    res.CacheKey,
		Format:      res.Format,
		Error:       res.ErrorDetail,
	}
	switch res.Kind {
	case query.KindInline:
		n := res.RowCount
		out.RowCount = &n
		out.Columns = res.Inline.Columns
		out.Rows = res.Inline.Rows
		return http.StatusOK, out
	case query.KindCached:
		n := res.RowCount
		out.RowCount = &n
		out.ResultURL = resultURL(res.JobID)
		return http.StatusOK, out
	}
	return http.StatusAccepted, out
}

// SubmitQuery handles POST /query.
func (h *Handler) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.query.Submit(r.Context(), query.SubmitRequest{SQL: req.SQL, Inline: req.Inline})
	if err != nil {
		var capErr *domain.CapacityExceededError
		if errors.As(err, &capErr) {
			w.Header().Set("Retry-After", "1")
		}
		h.writeError(w, r, err)
		return
	}
	code, body := submitToAPI(res)
	if code == http.StatusAccepted {
		w.Header().Set("Location", "/query/"+res.JobID)
	}
	writeJSON(w, code, body)
}

// ListJobs handles GET /query.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.JobFilter{
		Status:      domain.JobStatus(r.URL.Query().Get("status")),
		Fingerprint: r.URL.Query().Get("fingerprint"),
		Page:        page,
	}
	jobs, total, err := h.query.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]Job, len(jobs))
	for i, j := range jobs {
		items[i] = jobToAPI(j)
	}
	writeJSON(w, http.StatusOK, newListResponse(items, page, total))
}

// JobStatus handles GET /query/{job_id}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.query.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToAPI(*job))
}

// DownloadResult handles GET /query/{job_id}/result. Compressed rows are sent
// as stored with Content-Encoding gzip.
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	d, err := h.query.Download(r.Context(), jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer d.Body.Close() //nolint:errcheck

	hdr := w.Header()
	hdr.Set("Content-Type", d.ContentType)
	if d.ContentEncoding != "" {
		hdr.Set("Content-Encoding", d.ContentEncoding)
	}
	if d.Size > 0 {
		hdr.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	hdr.Set("X-Result-Format", string(d.Format))
	hdr.Set("Content-Disposition", `attachment; filename="`+jobID+"."+d.Format.Extension()+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, d.Body); err != nil {
		h.logger.WarnContext(r.Context(), "result stream interrupted", "job_id", jobID, "error", err)
	}
}

// SQLRequest is the body of the schema and metadata endpoints.
type SQLRequest struct {
	SQL string `json:"sql"`
}

// QuerySchema handles POST /query/schema.
func (h *Handler) QuerySchema(w http.ResponseWriter, r *http.Request) {
	var req SQLRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.query.Schema(r.Context(), req.SQL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// QueryMetadata handles POST /query/metadata.
func (h *Handler) QueryMetadata(w http.ResponseWriter, r *http.Request) {
	var req SQLRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	md, err := h.query.Metadata(r.Context(), req.SQL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// QueueStats handles GET /system/queue.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.QueueStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
