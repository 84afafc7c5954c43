package download

import (
	"errors"
	"fmt"

	"github.com/ytget/yt-queue/internal/store"
)

var (
	// ErrValidation is returned for malformed input
	ErrValidation = errors.New("validation failed")

	// ErrQueue is returned when an operation does not fit the queue state
	ErrQueue = errors.New("queue operation rejected")

	// ErrConsistency reports an internal invariant violation
	ErrConsistency = errors.New("queue consistency fault")

	// ErrCancelled is the cancellation cause of a cancelled job
	ErrCancelled = errors.New("download cancelled")

	// ErrPaused is the cancellation cause of a paused job
	ErrPaused = errors.New("download paused")
)

func notFound(id string) error {
	return fmt.Errorf("%w: item %s: %w", ErrQueue, id, store.ErrNotFound)
}
