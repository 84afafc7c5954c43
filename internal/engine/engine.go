// Package engine adapts yt-dlp to the download queue. It exposes metadata
// extraction, format discovery and downloads with progress callbacks, and
// turns raw tool failures into user-safe messages.
package engine

import (
	"context"
	"fmt"

	"github.com/ytget/yt-queue/internal/model"
)

// QualityPreset selects a default format selector
type QualityPreset string

const (
	QualityBest   QualityPreset = "best"
	QualityMedium QualityPreset = "medium"
	QualityAudio  QualityPreset = "audio"
)

// Defaults
const (
	DefaultFormatSelector   = "bestvideo+bestaudio/best"
	DefaultFilenameTemplate = "%(title)s.%(ext)s"
)

var presetSelectors = map[QualityPreset]string{
	QualityBest:   DefaultFormatSelector,
	QualityMedium: "bestvideo[height<=720]+bestaudio/best[height<=720]",
	QualityAudio:  "bestaudio/best",
}

// FormatSelector returns the yt-dlp selector for the preset
func (q QualityPreset) FormatSelector() string {
	if s, ok := presetSelectors[q]; ok {
		return s
	}
	return DefaultFormatSelector
}

// IsValid reports whether q is a known preset
func (q QualityPreset) IsValid() bool {
	_, ok := presetSelectors[q]
	return ok
}

// Options configure a single download
type Options struct {
	FormatSelector   string
	OutputDir        string
	FilenameTemplate string
}

// ProgressFunc receives progress events at the engine's own cadence
type ProgressFunc func(model.ProgressEvent)

// Engine performs extraction and byte transfer for a URL. Every method may
// block for a long time and must honor ctx cancellation.
type Engine interface {
	ExtractInfo(ctx context.Context, url string) (*model.MediaInfo, error)
	GetFormats(ctx context.Context, url string) ([]model.FormatDescriptor, error)
	Download(ctx context.Context, url string, opts Options, onProgress ProgressFunc) (string, error)
}

// ExtractionError reports that metadata could not be extracted for a URL
type ExtractionError struct {
	URL     string
	Message string // user-safe
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// DownloadError reports a network or integrity failure during transfer
type DownloadError struct {
	URL     string
	Message string // user-safe
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for %s: %s", e.URL, e.Message)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewExtractionError builds an ExtractionError with a sanitized message
func NewExtractionError(url string, err error) *ExtractionError {
	return &ExtractionError{URL: url, Message: Sanitize(err), Err: err}
}

// NewDownloadError builds a DownloadError with a sanitized message
func NewDownloadError(url string, err error) *DownloadError {
	return &DownloadError{URL: url, Message: Sanitize(err), Err: err}
}
