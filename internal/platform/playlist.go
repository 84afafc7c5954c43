package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/ytget/yt-queue/internal/model"
)

// Timeout constants
const (
	DefaultParseTimeout = 60 * time.Second
)

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// Default values
const (
	DefaultPlaylistName = "Unknown Playlist"
	PlaylistSuffix      = " Playlist"
	MinPrefixLength     = 10
)

// URL templates
const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// FetchFunc lists the videos of a playlist by its id
type FetchFunc func(ctx context.Context, playlistID string) ([]*model.PlaylistEntry, error)

// PlaylistParser expands playlist URLs into their entries
type PlaylistParser struct {
	timeout time.Duration
	fetch   FetchFunc
}

// NewPlaylistParser creates a parser backed by the ytdlp library
func NewPlaylistParser(timeout time.Duration) *PlaylistParser {
	if timeout <= 0 {
		timeout = DefaultParseTimeout
	}
	return &PlaylistParser{timeout: timeout, fetch: fetchPlaylistItems}
}

// WithFetcher replaces the item source, mainly for tests
func (p *PlaylistParser) WithFetcher(fetch FetchFunc) *PlaylistParser {
	p.fetch = fetch
	return p
}

// ParsePlaylist resolves url into a playlist with one entry per video
func (p *PlaylistParser) ParsePlaylist(ctx context.Context, url string) (*model.Playlist, error) {
	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	entries, err := p.fetch(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}
	for i, e := range entries {
		e.Index = i + 1
		if e.URL == "" {
			e.URL = fmt.Sprintf(YouTubeVideoURLTemplate, e.VideoID)
		}
	}

	return &model.Playlist{
		ID:      playlistID,
		Title:   playlistTitle(entries),
		URL:     url,
		Entries: entries,
	}, nil
}

func fetchPlaylistItems(ctx context.Context, playlistID string) ([]*model.PlaylistEntry, error) {
	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]*model.PlaylistEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, &model.PlaylistEntry{
			VideoID: it.VideoID,
			Title:   it.Title,
		})
	}
	return entries, nil
}

// extractPlaylistID extracts the playlist ID from various URL formats
func extractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		return ""
	}
	parts := strings.Split(url, PlaylistParam)
	playlistPart := parts[1]
	if strings.Contains(playlistPart, ParamSeparator) {
		playlistPart = strings.Split(playlistPart, ParamSeparator)[0]
	}
	return playlistPart
}

// playlistTitle derives a title from the common prefix of the first entries
func playlistTitle(entries []*model.PlaylistEntry) string {
	if len(entries) == 0 {
		return DefaultPlaylistName
	}
	if len(entries) > 1 {
		prefix := findCommonPrefix(entries[0].Title, entries[1].Title)
		if len(prefix) > MinPrefixLength {
			return strings.TrimSpace(prefix) + PlaylistSuffix
		}
	}
	return entries[0].Title + PlaylistSuffix
}

// findCommonPrefix finds the common prefix between two strings
func findCommonPrefix(s1, s2 string) string {
	minLen := min(len(s1), len(s2))
	for i := 0; i < minLen; i++ {
		if s1[i] != s2[i] {
			return s1[:i]
		}
	}
	return s1[:minLen]
}
