// Package download implements the persistent download queue on top of a
// media engine (yt-dlp via github.com/lrstanley/go-ytdlp). It admits jobs
// under a concurrency limit, drives each job through its lifecycle,
// propagates progress to observers and archives finished jobs into the
// history ledger used for duplicate detection.
package download
