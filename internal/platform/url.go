package platform

import (
	"errors"
	"net"
	"net/url"
	"sort"
	"strings"
)

// URL validation errors
var (
	ErrEmptyURL       = errors.New("url is empty")
	ErrInvalidURL     = errors.New("url is not a valid absolute http(s) url")
	ErrUnsupportedURL = errors.New("url scheme is not supported")
)

// Hosts that are rewritten to a canonical form
const (
	ShortYouTubeHost = "youtu.be"
	YouTubeHost      = "youtube.com"
	YouTubeWatchPath = "/watch"
	VideoParam       = "v"
)

// trackingParams are dropped from normalized URLs
var trackingParams = map[string]bool{
	"si":         true,
	"feature":    true,
	"fbclid":     true,
	"gclid":      true,
	"pp":         true,
	"ab_channel": true,
}

// ValidateURL checks that raw is a non-empty absolute http or https URL
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrEmptyURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return ErrUnsupportedURL
	}
}

// NormalizeURL returns the key used for duplicate detection. Equivalent
// spellings of the same video map to the same key.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" {
		scheme = "https"
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	if port == "80" || port == "443" {
		port = ""
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	query := u.Query()

	if host == ShortYouTubeHost && len(path) > 1 {
		query.Set(VideoParam, strings.TrimPrefix(path, "/"))
		host = YouTubeHost
		path = YouTubeWatchPath
	}

	for key := range query {
		if trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if port != "" {
		b.WriteString(net.JoinHostPort(host, port))
	} else {
		b.WriteString(host)
	}
	b.WriteString(path)

	sep := "?"
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(sep)
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
			sep = "&"
		}
	}
	return b.String()
}

// IsPlaylistURL reports whether raw carries a playlist identifier
func IsPlaylistURL(raw string) bool {
	return extractPlaylistID(raw) != ""
}
