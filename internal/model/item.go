package model

import (
	"strings"
	"time"
)

// QueueItem represents a requested download that has not been archived yet
type QueueItem struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	Title          string         `json:"title,omitempty"`
	FormatSelector string         `json:"format_selector,omitempty"`
	OutputPath     string         `json:"output_path"`
	Status         DownloadStatus `json:"status"`
	Progress       float64        `json:"progress"` // 0.0 to 1.0
	Position       int            `json:"position"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsActive returns true if the item holds a queue position
func (qi *QueueItem) IsActive() bool {
	return qi.Status.IsActive()
}

// Percent returns progress as an integer percentage
func (qi *QueueItem) Percent() int {
	return int(qi.Progress * 100)
}

// Transition moves the item to next if the transition table allows it
func (qi *QueueItem) Transition(next DownloadStatus, now time.Time) error {
	if !qi.Status.CanTransitionTo(next) {
		return &TransitionError{From: qi.Status, To: next}
	}
	qi.Status = next
	if next != StatusFailed {
		qi.ErrorMessage = ""
	}
	qi.Touch(now)
	return nil
}

// Touch bumps UpdatedAt, keeping it strictly increasing
func (qi *QueueItem) Touch(now time.Time) {
	if !now.After(qi.UpdatedAt) {
		now = qi.UpdatedAt.Add(time.Microsecond)
	}
	qi.UpdatedAt = now
}

// Clone returns a copy that can be mutated without affecting qi
func (qi *QueueItem) Clone() *QueueItem {
	c := *qi
	return &c
}

// DisplayTitle returns title or URL in order of preference
func (qi *QueueItem) DisplayTitle() string {
	if qi.Title != "" && !strings.HasPrefix(qi.Title, "http") {
		return qi.Title
	}
	return qi.URL
}

// QueueState summarizes the queue for status displays
type QueueState struct {
	Counts        map[DownloadStatus]int `json:"counts"`
	Active        int                    `json:"active"`
	Total         int                    `json:"total"`
	MaxConcurrent int                    `json:"max_concurrent"`
}
