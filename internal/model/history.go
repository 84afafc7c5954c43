package model

import (
	"path/filepath"
	"strings"
	"time"
)

// HistoryEntry is the archival record of a finished download.
// FileExists is derived at query time and never stored.
type HistoryEntry struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	URLKey         string         `json:"-"`
	Title          string         `json:"title"`
	FilePath       string         `json:"file_path,omitempty"`
	FileSize       int64          `json:"file_size"`
	FormatSelector string         `json:"format_selector,omitempty"`
	Duration       int64          `json:"duration"` // seconds, 0 if unknown
	Uploader       string         `json:"uploader,omitempty"`
	DownloadedAt   time.Time      `json:"downloaded_at"`
	Status         DownloadStatus `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	FileExists     bool           `json:"file_exists"`
}

// DisplayTitle returns title, file name, or URL in order of preference
func (he *HistoryEntry) DisplayTitle() string {
	if he.Title != "" && !strings.HasPrefix(he.Title, "http") {
		return he.Title
	}
	if he.FilePath != "" {
		name := filepath.Base(he.FilePath)
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return he.URL
}

// HistoryQuery filters history listings. Zero values mean no filter.
type HistoryQuery struct {
	Search string
	URLKey string
	Status DownloadStatus
	Limit  int
	Offset int
}
