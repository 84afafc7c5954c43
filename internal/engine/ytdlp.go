package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/ytget/yt-queue/internal/model"
)

// Timing defaults
const (
	DefaultExtractTimeout   = 60 * time.Second
	DefaultProgressInterval = 500 * time.Millisecond
)

// YTDLP runs the yt-dlp binary through github.com/lrstanley/go-ytdlp
type YTDLP struct {
	logger           *slog.Logger
	extractTimeout   time.Duration
	progressInterval time.Duration
}

// NewYTDLP creates an engine backed by yt-dlp
func NewYTDLP(logger *slog.Logger, extractTimeout time.Duration) *YTDLP {
	if extractTimeout <= 0 {
		extractTimeout = DefaultExtractTimeout
	}
	return &YTDLP{
		logger:           logger.With(slog.String("component", "ytdlp")),
		extractTimeout:   extractTimeout,
		progressInterval: DefaultProgressInterval,
	}
}

// infoJSON is the subset of yt-dlp's info dict the queue needs
type infoJSON struct {
	Title         string       `json:"title"`
	Uploader      string       `json:"uploader"`
	Channel       string       `json:"channel"`
	Duration      float64      `json:"duration"`
	PlaylistIndex int          `json:"playlist_index"`
	PlaylistTitle string       `json:"playlist_title"`
	Formats       []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	FileSize       float64 `json:"filesize"`
	FileSizeApprox float64 `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	FormatNote     string  `json:"format_note"`
}

// ExtractInfo fetches metadata without downloading
func (y *YTDLP) ExtractInfo(ctx context.Context, url string) (*model.MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, y.extractTimeout)
	defer cancel()

	res, err := ytdlp.New().
		SkipDownload().
		NoPlaylist().
		DumpSingleJSON().
		Run(ctx, url)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, NewExtractionError(url, withStderr(err, res))
	}

	info, err := parseInfo(res.Stdout)
	if err != nil {
		return nil, NewExtractionError(url, err)
	}
	return info, nil
}

// GetFormats lists the formats offered for url
func (y *YTDLP) GetFormats(ctx context.Context, url string) ([]model.FormatDescriptor, error) {
	info, err := y.ExtractInfo(ctx, url)
	if err != nil {
		return nil, err
	}
	return info.Formats, nil
}

// Download transfers url into opts.OutputDir and returns the final file path
func (y *YTDLP) Download(ctx context.Context, url string, opts Options, onProgress ProgressFunc) (string, error) {
	selector := opts.FormatSelector
	if selector == "" {
		selector = DefaultFormatSelector
	}
	template := opts.FilenameTemplate
	if template == "" {
		template = DefaultFilenameTemplate
	}

	dl := ytdlp.New().
		Format(selector).
		RestrictFilenames().
		NoPlaylist().
		Output(filepath.Join(opts.OutputDir, template))

	var (
		mu       sync.Mutex
		lastFile string
	)
	dl.ProgressFunc(y.progressInterval, func(update ytdlp.ProgressUpdate) {
		ev := progressEvent(update)
		if ev.Filename != "" {
			mu.Lock()
			lastFile = ev.Filename
			mu.Unlock()
		}
		if onProgress != nil {
			onProgress(ev)
		}
	})

	res, err := dl.Run(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		y.logger.Debug("yt-dlp run failed", slog.String("url", url), slog.String("error", err.Error()))
		return "", NewDownloadError(url, withStderr(err, res))
	}

	mu.Lock()
	path := lastFile
	mu.Unlock()
	if info, ierr := res.GetExtractedInfo(); ierr == nil && len(info) > 0 && info[0].Filename != nil {
		path = *info[0].Filename
	}
	if path == "" {
		return "", &DownloadError{URL: url, Message: EmptyFileMessage, Err: errors.New("output file unknown")}
	}
	return path, nil
}

func progressEvent(update ytdlp.ProgressUpdate) model.ProgressEvent {
	ev := model.ProgressEvent{
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
		Filename:        update.Filename,
	}

	if !update.Started.IsZero() {
		elapsed := time.Since(update.Started)
		if elapsed.Seconds() > 0 {
			ev.Speed = float64(update.DownloadedBytes) / elapsed.Seconds()
		}
	}

	if eta := update.ETA(); eta > 0 {
		ev.ETA = eta
	}
	return ev
}

func parseInfo(stdout string) (*model.MediaInfo, error) {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil, errors.New("empty metadata output")
	}

	var raw infoJSON
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	info := &model.MediaInfo{
		Title:         raw.Title,
		Uploader:      raw.Uploader,
		Duration:      int64(raw.Duration),
		PlaylistIndex: raw.PlaylistIndex,
		PlaylistTitle: raw.PlaylistTitle,
		Formats:       make([]model.FormatDescriptor, 0, len(raw.Formats)),
	}
	if info.Uploader == "" {
		info.Uploader = raw.Channel
	}

	for _, f := range raw.Formats {
		size := f.FileSize
		if size == 0 {
			size = f.FileSizeApprox
		}
		info.Formats = append(info.Formats, model.FormatDescriptor{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: f.Resolution,
			FileSize:   int64(size),
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			AudioOnly:  f.VCodec == "none" && f.ACodec != "none",
			Quality:    f.FormatNote,
		})
	}
	return info, nil
}

// withStderr appends yt-dlp's stderr so sanitizing can recognize the cause
func withStderr(err error, res *ytdlp.Result) error {
	if res == nil || strings.TrimSpace(res.Stderr) == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
}
