package domain

import (
	"path"
	"strings"
	"time"
)

// DiscoveredFile is an object found in the discovery bucket.
type DiscoveredFile struct {
	Path         string    `json:"path"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
	FileType     string    `json:"file_type"`
	RegisteredAt time.Time `json:"registered_at"`
}

// FileFilter narrows a discovered file listing. PathPrefix matches from the
// start of the object key.
type FileFilter struct {
	FileType   string
	PathPrefix string
	Page       PageRequest
}

// FileTypeCount is one row of the file type histogram.
type FileTypeCount struct {
	FileType string `json:"file_type"`
	Count    int64  `json:"count"`
}

// ClassifyFile maps an object key to a coarse file type.
func ClassifyFile(key string) string {
	name := strings.ToLower(path.Base(key))
	name = strings.TrimSuffix(name, ".gz")
	switch path.Ext(name) {
	case ".parquet":
		return "parquet"
	case ".csv", ".tsv":
		return "csv"
	case ".json", ".jsonl", ".ndjson":
		return "json"
	case ".arrow", ".feather", ".ipc":
		return "arrow"
	}
	return "other"
}
