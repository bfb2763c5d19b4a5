package api

import (
	"net/http"

	"duck-flight/internal/domain"
)

func (h *Handler) filesEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.files == nil {
		h.writeError(w, r, domain.ErrNotFound("file discovery is disabled"))
		return false
	}
	return true
}

// ListFiles handles GET /files/registry.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	if !h.filesEnabled(w, r) {
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.FileFilter{
		FileType:   r.URL.Query().Get("file_type"),
		PathPrefix: r.URL.Query().Get("path"),
		Page:       page,
	}
	files, total, err := h.files.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(files, page, total))
}

// CountFiles handles GET /files/registry/count.
func (h *Handler) CountFiles(w http.ResponseWriter, r *http.Request) {
	if !h.filesEnabled(w, r) {
		return
	}
	fileType := r.URL.Query().Get("file_type")
	n, err := h.files.Count(r.Context(), fileType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": n, "file_type": fileType})
}

// FileTypes handles GET /files/registry/types.
func (h *Handler) FileTypes(w http.ResponseWriter, r *http.Request) {
	if !h.filesEnabled(w, r) {
		return
	}
	types, err := h.files.Types(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if types == nil {
		types = []domain.FileTypeCount{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"types": types})
}

// ScanFiles handles POST /files/discovery/scan.
func (h *Handler) ScanFiles(w http.ResponseWriter, r *http.Request) {
	if !h.filesEnabled(w, r) {
		return
	}
	res, err := h.files.Scan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DiscoveryStatus handles GET /files/discovery/status.
func (h *Handler) DiscoveryStatus(w http.ResponseWriter, r *http.Request) {
	if !h.filesEnabled(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.files.Status())
}
