package store

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ytget/yt-queue/internal/model"
)

func TestBuildHistoryWhere(t *testing.T) {
	tests := []struct {
		name      string
		query     model.HistoryQuery
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "should return empty clause without filters",
			query:     model.HistoryQuery{},
			wantWhere: "",
			wantArgs:  nil,
		},
		{
			name:      "should filter by url key and status",
			query:     model.HistoryQuery{URLKey: "https://youtube.com/watch?v=a", Status: model.StatusCompleted},
			wantWhere: " WHERE url_key = ? AND status = ?",
			wantArgs:  []any{"https://youtube.com/watch?v=a", "completed"},
		},
		{
			name:      "should lowercase and escape search",
			query:     model.HistoryQuery{Search: "  50%_Off "},
			wantWhere: ` WHERE (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(url) LIKE ? ESCAPE '\' OR LOWER(uploader) LIKE ? ESCAPE '\')`,
			wantArgs:  []any{`%50\%\_off%`, `%50\%\_off%`, `%50\%\_off%`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildHistoryWhere(tt.query)
			if where != tt.wantWhere {
				t.Errorf("where = %q, expected %q", where, tt.wantWhere)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, expected %v", args, tt.wantArgs)
			}
		})
	}
}

func TestBuildItemWhere(t *testing.T) {
	where, args := buildItemWhere(ItemFilter{Statuses: model.ActiveStatuses})
	if where != " WHERE status IN (?, ?, ?)" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 3 {
		t.Errorf("len(args) = %d, expected 3", len(args))
	}

	where, args = buildItemWhere(ItemFilter{})
	if where != "" || args != nil {
		t.Errorf("empty filter produced %q %v", where, args)
	}
}

func TestBuildLimit(t *testing.T) {
	tests := []struct {
		limit, offset int
		wantClause    string
		wantArgs      []any
	}{
		{0, 0, "", nil},
		{10, 0, " LIMIT ? OFFSET ?", []any{10, 0}},
		{10, 20, " LIMIT ? OFFSET ?", []any{10, 20}},
		{0, 5, " LIMIT ? OFFSET ?", []any{2147483647, 5}},
	}

	for _, tt := range tests {
		clause, args := buildLimit(tt.limit, tt.offset)
		if clause != tt.wantClause || !reflect.DeepEqual(args, tt.wantArgs) {
			t.Errorf("buildLimit(%d, %d) = %q %v, expected %q %v",
				tt.limit, tt.offset, clause, args, tt.wantClause, tt.wantArgs)
		}
	}
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT a FROM t WHERE b = ? AND c IN (?, ?)")
	want := "SELECT a FROM t WHERE b = $1 AND c IN ($2, $3)"
	if got != want {
		t.Errorf("rebind() = %q, expected %q", got, want)
	}
}

func TestActiveStatusList(t *testing.T) {
	for _, s := range model.ActiveStatuses {
		if !strings.Contains(activeStatusList, "'"+string(s)+"'") {
			t.Errorf("activeStatusList %q does not contain %s", activeStatusList, s)
		}
	}
}
