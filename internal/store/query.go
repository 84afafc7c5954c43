package store

import (
	"math"
	"strconv"
	"strings"

	"github.com/ytget/yt-queue/internal/model"
)

const itemColumns = `id, url, title, format_selector, output_path, status, progress,
	position, error_message, created_at, updated_at`

const historyColumns = `id, url, url_key, title, file_path, file_size, format_selector,
	duration, uploader, downloaded_at, status, error_message`

// activeStatusList is the SQL literal list of statuses that hold a position.
var activeStatusList = func() string {
	parts := make([]string, 0, len(model.ActiveStatuses))
	for _, s := range model.ActiveStatuses {
		parts = append(parts, "'"+string(s)+"'")
	}
	return strings.Join(parts, ", ")
}()

// buildItemWhere returns the WHERE clause and args for an item filter.
func buildItemWhere(f ItemFilter) (string, []any) {
	if len(f.Statuses) == 0 {
		return "", nil
	}
	marks := make([]string, 0, len(f.Statuses))
	args := make([]any, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		marks = append(marks, "?")
		args = append(args, string(s))
	}
	return " WHERE status IN (" + strings.Join(marks, ", ") + ")", args
}

// buildHistoryWhere returns the WHERE clause and args for a history query.
// Search is a case-insensitive substring match on title, url and uploader.
func buildHistoryWhere(q model.HistoryQuery) (string, []any) {
	var conds []string
	var args []any

	if q.URLKey != "" {
		conds = append(conds, "url_key = ?")
		args = append(args, q.URLKey)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		conds = append(conds,
			`(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(url) LIKE ? ESCAPE '\' OR LOWER(uploader) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildLimit renders LIMIT/OFFSET. OFFSET without a limit needs a limit in SQLite.
func buildLimit(limit, offset int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return "", nil
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}
	return " LIMIT ? OFFSET ?", []any{limit, offset}
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// rebind converts ? placeholders into $n for PostgreSQL.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
