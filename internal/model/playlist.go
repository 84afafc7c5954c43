package model

// PlaylistEntry represents a single video in a playlist
type PlaylistEntry struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Index   int    `json:"index"`
}

// Playlist represents an expanded playlist
type Playlist struct {
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	URL     string           `json:"url"`
	Entries []*PlaylistEntry `json:"entries"`
}

// Len returns the number of entries in the playlist
func (p *Playlist) Len() int {
	return len(p.Entries)
}
