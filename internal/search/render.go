package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/user/multichat/internal/types"
)

// PageSize is the number of records rendered per message.
const PageSize = 10

var (
	whitespaceRun = regexp.MustCompile(`[\r\n\t]+`)
	firstCapital  = regexp.MustCompile(`[A-Z]`)
)

// Sanitize flattens a record onto one line and drops any leading text
// before its first capital letter.
func Sanitize(content string) string {
	s := strings.TrimSpace(whitespaceRun.ReplaceAllString(content, " "))
	if loc := firstCapital.FindStringIndex(s); loc != nil {
		s = s[loc[0]:]
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderResults formats the first page of a search as a system message
// body together with the metadata needed to load further pages.
func RenderResults(src *types.DatabaseSource, query string, res *Result) (string, *types.SearchMetadata) {
	var b strings.Builder
	fmt.Fprintf(&b, "**Database Search Results**\nSource: %s\nQuery: \"%s\"\nFound %d records. These are now part of the conversation context.",
		src.Name, query, len(res.Records))

	if len(res.Records) == 0 {
		b.WriteString("\n\n*No matching records were found.*")
	} else {
		records := make([]Record, len(res.Records))
		titled := false
		for i, r := range res.Records {
			records[i] = Record{Title: r.Title, Content: Sanitize(r.Content)}
			if r.Title != "" {
				titled = true
			}
		}

		page := records
		if len(page) > PageSize {
			page = page[:PageSize]
		}
		if titled {
			b.WriteString("\n\n| &nbsp; | Source Document | Record Content |\n| :--- | :--- | :--- |\n")
			for i, r := range page {
				title := escapeCell(r.Title)
				if title == "" {
					title = "Unknown"
				}
				fmt.Fprintf(&b, "| %d | **%s** | %s |\n", i+1, title, escapeCell(r.Content))
			}
		} else {
			b.WriteString("\n\n| Index | Record Content |\n| :--- | :--- |\n")
			for i, r := range page {
				fmt.Fprintf(&b, "| %d | %s |\n", i+1, escapeCell(r.Content))
			}
		}
		if len(records) > PageSize {
			fmt.Fprintf(&b, "\n*...and %d more records available.*", len(records)-PageSize)
		}
	}

	return b.String(), &types.SearchMetadata{
		DatabaseID:   src.ID,
		SearchQuery:  query,
		Offset:       PageSize,
		TotalResults: len(res.Records),
	}
}

// RenderMore formats the next page of a literal search described by meta.
// ok is false when every record was already shown or the source is an
// index, whose results are not paged.
func RenderMore(src *types.DatabaseSource, meta types.SearchMetadata) (content string, next *types.SearchMetadata, ok bool) {
	if !src.Literal() || meta.Offset >= meta.TotalResults {
		return "", nil, false
	}
	records := Literal(src, meta.SearchQuery)
	end := meta.Offset + PageSize

	var b strings.Builder
	fmt.Fprintf(&b, "**Additional Database Results** (Records %d - %d)\nSource: %s\nQuery: \"%s\"",
		meta.Offset+1, min(end, meta.TotalResults), src.Name, meta.SearchQuery)
	b.WriteString("\n\n| Index | Record Content |\n| :--- | :--- |\n")
	for i := meta.Offset; i < end && i < len(records); i++ {
		fmt.Fprintf(&b, "| %d | %s |\n", i+1, escapeCell(Sanitize(records[i].Content)))
	}
	if end < meta.TotalResults {
		fmt.Fprintf(&b, "\n\n*...and %d more records available.*", meta.TotalResults-end)
	} else {
		b.WriteString("\n\n*All matching records have been loaded.*")
	}

	next = &types.SearchMetadata{
		DatabaseID:   meta.DatabaseID,
		SearchQuery:  meta.SearchQuery,
		Offset:       end,
		TotalResults: meta.TotalResults,
	}
	return b.String(), next, true
}
