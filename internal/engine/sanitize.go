package engine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Message limits
const (
	MaxMessageLength  = 200
	TruncateSuffix    = "..."
	DefaultErrMessage = "An unexpected error occurred."
	EmptyFileMessage  = "Downloaded file is empty or missing."
)

type friendlyMessage struct {
	pattern *regexp.Regexp
	message string
}

// friendlyMessages map known failure signatures to user-safe text. First match wins.
var friendlyMessages = []friendlyMessage{
	{regexp.MustCompile(`(?i)connection refused`), "The server refused the connection. Check that the website is reachable."},
	{regexp.MustCompile(`(?i)timed? ?out`), "The connection timed out. Try again later."},
	{regexp.MustCompile(`(?i)name or service not known|no such host|temporary failure in name resolution`), "Could not resolve the host name. Check your network connection."},
	{regexp.MustCompile(`(?i)ssl|certificate`), "A secure connection could not be established."},
	{regexp.MustCompile(`(?i)network.*(unreachable|down)`), "The network is unreachable. Check your connection."},
	{regexp.MustCompile(`(?i)private video`), "This video is private."},
	{regexp.MustCompile(`(?i)video.*(unavailable|not found|deleted)`), "The video is unavailable. It may have been removed."},
	{regexp.MustCompile(`(?i)age.*(restrict|gate)|confirm your age`), "The video is age restricted."},
	{regexp.MustCompile(`(?i)http error 403`), "Access to the video was denied by the server (HTTP 403)."},
	{regexp.MustCompile(`(?i)http error 404`), "The requested media was not found (HTTP 404)."},
	{regexp.MustCompile(`(?i)http error 429|too many requests`), "Too many requests. Wait a while before trying again."},
	{regexp.MustCompile(`(?i)unsupported url`), "This URL is not supported."},
	{regexp.MustCompile(`(?i)requested format.*not available|format.*(unavailable|not found)`), "The requested format is not available for this video."},
	{regexp.MustCompile(`(?i)no space left|disk.*full`), "Not enough disk space to save the file."},
	{regexp.MustCompile(`(?i)permission denied|access is denied`), "Permission denied while writing the file."},
}

var (
	reTraceback  = regexp.MustCompile(`(?s)Traceback \(most recent call last\):.*`)
	reGoroutine  = regexp.MustCompile(`(?s)goroutine \d+ \[.*`)
	reSourceLine = regexp.MustCompile(`File "[^"]+", line \d+[^\n]*`)
	reSourcePath = regexp.MustCompile(`\S+\.(py|go)(:\d+)?`)
	reUnixPath   = regexp.MustCompile(`(^|\s)(/[^\s/]+){2,}/?`)
	reWinPath    = regexp.MustCompile(`[A-Za-z]:\\\S+`)
	rePrefix     = regexp.MustCompile(`(?i)^(\[\w+\]\s*)*(error|exception|warning|fatal)\s*:\s*`)
	reTypePrefix = regexp.MustCompile(`^\w+(Error|Exception):\s*`)
	reAddress    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

// FriendlyMessage returns a user-safe explanation for a known failure, or "".
func FriendlyMessage(raw string) string {
	for _, fm := range friendlyMessages {
		if fm.pattern.MatchString(raw) {
			return fm.message
		}
	}
	return ""
}

// SanitizeMessage turns raw engine output into a message that carries no
// stack traces, source locations, file system paths or memory addresses.
func SanitizeMessage(raw string) string {
	if msg := FriendlyMessage(raw); msg != "" {
		return msg
	}

	msg := reTraceback.ReplaceAllString(raw, "")
	msg = reGoroutine.ReplaceAllString(msg, "")
	msg = reSourceLine.ReplaceAllString(msg, "")
	msg = reSourcePath.ReplaceAllString(msg, "")
	msg = reWinPath.ReplaceAllString(msg, "")
	msg = reUnixPath.ReplaceAllString(msg, "$1")
	msg = reAddress.ReplaceAllString(msg, "")
	msg = reSpaces.ReplaceAllString(msg, " ")
	msg = strings.TrimSpace(msg)
	msg = rePrefix.ReplaceAllString(msg, "")
	msg = reTypePrefix.ReplaceAllString(msg, "")
	msg = strings.Trim(msg, " :;,-")

	if msg == "" {
		return DefaultErrMessage
	}

	if len(msg) > MaxMessageLength {
		cut := MaxMessageLength - len(TruncateSuffix)
		for cut > 0 && !isRuneStart(msg[cut]) {
			cut--
		}
		msg = strings.TrimRight(msg[:cut], " ") + TruncateSuffix
	}

	if last := msg[len(msg)-1]; last != '.' && last != '!' && last != '?' {
		msg += "."
	}
	r, size := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[size:]
}

// Sanitize is SanitizeMessage for errors; nil yields "".
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
