package model

import (
	"fmt"
	"time"
)

// DownloadProgress is the latest progress snapshot of an in-flight job
type DownloadProgress struct {
	JobID           string         `json:"job_id"`
	Status          DownloadStatus `json:"status"`
	DownloadedBytes int64          `json:"downloaded_bytes"`
	TotalBytes      int64          `json:"total_bytes"` // 0 if unknown
	Speed           float64        `json:"speed"`       // bytes per second
	ETA             time.Duration  `json:"eta"`
	Filename        string         `json:"filename,omitempty"`
	Percent         float64        `json:"percent"`
	Elapsed         time.Duration  `json:"elapsed"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Fraction returns progress in [0,1], or -1 if the total size is unknown
func (p DownloadProgress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return -1
	}
	f := float64(p.DownloadedBytes) / float64(p.TotalBytes)
	if f > 1 {
		f = 1
	}
	return f
}

// GetETAString returns ETA formatted as hh:mm:ss, or "—" if unknown
func (p DownloadProgress) GetETAString() string {
	sec := int(p.ETA.Seconds())
	if sec <= 0 {
		return "—"
	}

	hours := sec / 3600
	minutes := (sec % 3600) / 60
	seconds := sec % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// GetSpeedString returns speed in human readable form (e.g. "1.2MB/s")
func (p DownloadProgress) GetSpeedString() string {
	if p.Speed <= 0 {
		return "—"
	}
	return fmt.Sprintf("%.1fMB/s", p.Speed/1024/1024)
}

// ProgressEvent is what the media engine reports while transferring
type ProgressEvent struct {
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64
	ETA             time.Duration
	Filename        string
}
