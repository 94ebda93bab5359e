package search

import (
	"strings"

	"github.com/user/multichat/internal/types"
)

// Rows returns the data rows of a literal source. CSV uploads skip their
// header line; blank lines are dropped.
func Rows(src *types.DatabaseSource) []string {
	var rows []string
	for _, line := range strings.Split(src.Content, "\n") {
		if strings.TrimSpace(line) != "" {
			rows = append(rows, line)
		}
	}
	if src.Type == types.SourceCSV && len(rows) > 0 {
		rows = rows[1:]
	}
	return rows
}

// Literal returns every row containing query, case-insensitively.
func Literal(src *types.DatabaseSource, query string) []Record {
	q := strings.ToLower(query)
	var out []Record
	for _, row := range Rows(src) {
		if strings.Contains(strings.ToLower(row), q) {
			out = append(out, Record{Content: row})
		}
	}
	return out
}
