package model

import (
	"testing"
	"time"
)

func TestDownloadProgress_GetETAString(t *testing.T) {
	tests := []struct {
		etaSec   int
		expected string
	}{
		{-1, "—"},
		{0, "—"},
		{30, "00:30"},
		{90, "01:30"},
		{3600, "01:00:00"},
		{3661, "01:01:01"},
		{7323, "02:02:03"},
	}

	for _, test := range tests {
		p := DownloadProgress{ETA: time.Duration(test.etaSec) * time.Second}
		result := p.GetETAString()
		if result != test.expected {
			t.Errorf("GetETAString() with ETA=%ds = %s, expected %s", test.etaSec, result, test.expected)
		}
	}
}

func TestDownloadProgress_Fraction(t *testing.T) {
	tests := []struct {
		downloaded int64
		total      int64
		expected   float64
	}{
		{0, 0, -1},
		{50, 0, -1},
		{0, 100, 0},
		{25, 100, 0.25},
		{120, 100, 1},
	}

	for _, test := range tests {
		p := DownloadProgress{DownloadedBytes: test.downloaded, TotalBytes: test.total}
		if got := p.Fraction(); got != test.expected {
			t.Errorf("Fraction() with %d/%d = %v, expected %v", test.downloaded, test.total, got, test.expected)
		}
	}
}

func TestQueueItem_DisplayTitle(t *testing.T) {
	tests := []struct {
		title    string
		url      string
		expected string
	}{
		{"Video Title", "https://youtube.com/watch?v=123", "Video Title"},
		{"", "https://youtube.com/watch?v=123", "https://youtube.com/watch?v=123"},
		{"https://youtube.com/watch?v=456", "https://youtube.com/watch?v=456", "https://youtube.com/watch?v=456"},
	}

	for _, test := range tests {
		item := &QueueItem{Title: test.title, URL: test.url}
		result := item.DisplayTitle()
		if result != test.expected {
			t.Errorf("DisplayTitle() with title='%s', url='%s' = '%s', expected '%s'",
				test.title, test.url, result, test.expected)
		}
	}
}

func TestHistoryEntry_DisplayTitle(t *testing.T) {
	entry := &HistoryEntry{URL: "https://youtube.com/watch?v=1", FilePath: "/tmp/downloads/My_Video.mp4"}
	if got := entry.DisplayTitle(); got != "My_Video" {
		t.Errorf("DisplayTitle() = %q, expected %q", got, "My_Video")
	}
}

func TestQueueItem_Touch(t *testing.T) {
	now := time.Now()
	item := &QueueItem{UpdatedAt: now}

	item.Touch(now)
	if !item.UpdatedAt.After(now) {
		t.Errorf("Touch() with same instant must still advance UpdatedAt, got %v", item.UpdatedAt)
	}

	later := now.Add(time.Second)
	item.Touch(later)
	if !item.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, expected %v", item.UpdatedAt, later)
	}
}

func TestQueueItem_Clone(t *testing.T) {
	item := &QueueItem{ID: "a", Position: 1}
	c := item.Clone()
	c.Position = 5

	if item.Position != 1 {
		t.Errorf("Clone() shares state with original, Position = %d", item.Position)
	}
}
