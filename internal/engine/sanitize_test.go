package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "should map known network failure",
			raw:  "ERROR: [youtube] abc: Unable to download webpage: <urlopen error [Errno 111] Connection refused>",
			want: "The server refused the connection. Check that the website is reachable.",
		},
		{
			name: "should map http 429",
			raw:  "ERROR: unable to download video data: HTTP Error 429: Too Many Requests",
			want: "Too many requests. Wait a while before trying again.",
		},
		{
			name: "should map disk full",
			raw:  "[Errno 28] No space left on device: '/home/user/Downloads/a.mp4.part'",
			want: "Not enough disk space to save the file.",
		},
		{
			name: "should strip prefix and add punctuation",
			raw:  "ERROR: something odd happened",
			want: "Something odd happened.",
		},
		{
			name: "should strip tracebacks",
			raw:  "extractor crashed\nTraceback (most recent call last):\n  File \"/usr/lib/yt_dlp/x.py\", line 10, in run\nKeyError: 'id'",
			want: "Extractor crashed.",
		},
		{
			name: "should strip paths and addresses",
			raw:  "cannot merge /home/user/Downloads/video.f137.mp4 at 0xc000123456 with ffmpeg",
			want: "Cannot merge at with ffmpeg.",
		},
		{
			name: "should strip go source locations",
			raw:  "ValueError: bad value in engine.go:42",
			want: "Bad value in.",
		},
		{
			name: "should default when nothing is left",
			raw:  "   0xdeadbeef   ",
			want: DefaultErrMessage,
		},
		{
			name: "should keep existing punctuation",
			raw:  "Stream ended unexpectedly!",
			want: "Stream ended unexpectedly!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeMessage(tt.raw); got != tt.want {
				t.Errorf("SanitizeMessage() = %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeMessage_Truncates(t *testing.T) {
	raw := strings.Repeat("word ", 100)
	got := SanitizeMessage(raw)

	if len(got) > MaxMessageLength {
		t.Errorf("len = %d, expected at most %d", len(got), MaxMessageLength)
	}
	if !strings.HasSuffix(got, TruncateSuffix) {
		t.Errorf("truncated message %q does not end with %q", got, TruncateSuffix)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize(nil); got != "" {
		t.Errorf("Sanitize(nil) = %q, expected empty", got)
	}
	if got := Sanitize(errors.New("private video")); got != "This video is private." {
		t.Errorf("Sanitize() = %q", got)
	}
}
