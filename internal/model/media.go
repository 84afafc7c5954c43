package model

// MediaInfo is the metadata the engine extracts for a URL
type MediaInfo struct {
	Title         string             `json:"title"`
	Uploader      string             `json:"uploader,omitempty"`
	Duration      int64              `json:"duration"` // seconds
	Formats       []FormatDescriptor `json:"formats"`
	PlaylistIndex int                `json:"playlist_index,omitempty"`
	PlaylistTitle string             `json:"playlist_title,omitempty"`
}

// FormatDescriptor describes one format offered for a URL
type FormatDescriptor struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
	VCodec     string `json:"vcodec,omitempty"`
	ACodec     string `json:"acodec,omitempty"`
	AudioOnly  bool   `json:"audio_only"`
	Quality    string `json:"quality,omitempty"`
}
