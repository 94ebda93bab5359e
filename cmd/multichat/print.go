package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/user/multichat/internal/types"
)

// printMessage writes one transcript entry, assistant responses ordered by
// model id.
func printMessage(w io.Writer, m *types.Message) {
	switch {
	case m.Role == types.RoleAssistant:
		models := make([]string, 0, len(m.Responses))
		for model := range m.Responses {
			models = append(models, model)
		}
		sort.Strings(models)
		for _, model := range models {
			r := m.Responses[model]
			if r.Status == types.StatusError {
				fmt.Fprintf(w, "[%s] error: %s\n\n", model, r.Error)
				continue
			}
			fmt.Fprintf(w, "[%s]\n%s\n\n", model, strings.TrimSpace(r.Text))
		}
	case m.IsSystem:
		fmt.Fprintf(w, "-- %s\n\n", strings.TrimSpace(m.Content))
	default:
		fmt.Fprintf(w, "> %s\n", strings.TrimSpace(m.Content))
		for _, a := range m.Attachments {
			fmt.Fprintf(w, "  [attachment] %s (%s)\n", a.Name, a.Type)
		}
		fmt.Fprintln(w)
	}
}
