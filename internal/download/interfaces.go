package download

import (
	"context"

	"github.com/ytget/yt-queue/internal/model"
)

// Downloader defines the interface for the queue manager.
type Downloader interface {
	AddToQueue(ctx context.Context, url string, opts AddOptions) (*model.QueueItem, error)
	AddPlaylist(ctx context.Context, url string, opts AddOptions) (*PlaylistResult, error)
	GetQueue(ctx context.Context) ([]*model.QueueItem, error)
	GetItem(ctx context.Context, id string) (*model.QueueItem, error)
	GetQueueState(ctx context.Context) (*model.QueueState, error)
	ClearFinished(ctx context.Context) (int, error)

	PauseDownload(ctx context.Context, id string) (bool, error)
	ResumeDownload(ctx context.Context, id string) (bool, error)
	CancelDownload(ctx context.Context, id string) (bool, error)
	ReorderQueue(ctx context.Context, id string, newPosition int) error

	// SetMaxConcurrent sets the maximum number of parallel downloads
	SetMaxConcurrent(n int) error
	MaxConcurrent() int

	CheckDuplicate(ctx context.Context, url string) (*model.HistoryEntry, error)
	GetHistory(ctx context.Context, q model.HistoryQuery) ([]*model.HistoryEntry, error)
	GetHistoryCount(ctx context.Context, search string) (int, error)
	RemoveFromHistory(ctx context.Context, id string) (bool, error)
	ClearHistory(ctx context.Context) (int, error)

	GetFormats(ctx context.Context, url string) ([]model.FormatDescriptor, error)
	Progress(id string) (model.DownloadProgress, bool)
	SubscribeProgress(id string) (<-chan model.DownloadProgress, func())
}

// PlaylistExpander resolves a playlist URL into its entries
type PlaylistExpander interface {
	ParsePlaylist(ctx context.Context, url string) (*model.Playlist, error)
}
