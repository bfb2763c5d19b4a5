package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"duck-flight/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with its mapped status. Unmapped errors are logged
// and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := errorBodyFor(err)
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, body)
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrValidation("request body is required")
		}
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// pageFromQuery reads max_results/page_token, also accepting limit/offset.
func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	var p domain.PageRequest
	for _, name := range []string{"max_results", "limit"} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return p, domain.ErrValidation("%s must be a non-negative integer", name)
			}
			p.MaxResults = n
		}
	}
	p.PageToken = q.Get("page_token")
	if v := q.Get("offset"); v != "" && p.PageToken == "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("offset must be a non-negative integer")
		}
		if n > 0 {
			p.PageToken = domain.PageToken(n)
		}
	}
	return p, nil
}

// listResponse is the envelope of paginated listings.
type listResponse[T any] struct {
	Items         []T    `json:"items"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func newListResponse[T any](items []T, page domain.PageRequest, total int64) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: total, NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total)}
}
