package platform

// Package platform contains OS and external tooling glue: filesystem helpers
// for verifying and cleaning up downloads, URL validation and normalization,
// and playlist expansion via github.com/ytget/ytdlp/v2.
