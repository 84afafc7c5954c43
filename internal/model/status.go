package model

import "fmt"

// DownloadStatus represents the lifecycle status of a queued download
type DownloadStatus string

const (
	// StatusPending means the item is queued and waits for a free slot
	StatusPending DownloadStatus = "pending"

	// StatusDownloading means a worker is transferring the item
	StatusDownloading DownloadStatus = "downloading"

	// StatusPaused means the user paused an in-flight download
	StatusPaused DownloadStatus = "paused"

	// StatusCompleted means the file was downloaded and verified
	StatusCompleted DownloadStatus = "completed"

	// StatusFailed means the engine or the integrity check failed
	StatusFailed DownloadStatus = "failed"

	// StatusCancelled means the user cancelled the item
	StatusCancelled DownloadStatus = "cancelled"
)

// AllStatuses lists every known status in lifecycle order
var AllStatuses = []DownloadStatus{
	StatusPending,
	StatusDownloading,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ActiveStatuses are the statuses that occupy a queue position
var ActiveStatuses = []DownloadStatus{StatusPending, StatusDownloading, StatusPaused}

// validTransitions is the single source of truth for status changes.
// Downloading -> Pending is only used by startup recovery.
var validTransitions = map[DownloadStatus]map[DownloadStatus]bool{
	StatusPending: {
		StatusDownloading: true,
		StatusCancelled:   true,
	},
	StatusDownloading: {
		StatusPaused:    true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusPending:   true,
	},
	StatusPaused: {
		StatusPending:   true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// String returns the string representation of DownloadStatus
func (s DownloadStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses
func (s DownloadStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsActive returns true if the item still holds a queue position
func (s DownloadStatus) IsActive() bool {
	return s == StatusPending || s == StatusDownloading || s == StatusPaused
}

// IsTerminal returns true if no further transitions are possible
func (s DownloadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s DownloadStatus) CanTransitionTo(next DownloadStatus) bool {
	return validTransitions[s][next]
}

// ParseStatus converts a stored value into a DownloadStatus
func ParseStatus(v string) (DownloadStatus, error) {
	s := DownloadStatus(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown download status %q", v)
	}
	return s, nil
}

// TransitionError describes a rejected status change
type TransitionError struct {
	From DownloadStatus
	To   DownloadStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}
