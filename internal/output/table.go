package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// LimitRow describes one admission window.
type LimitRow struct {
	Operation string        `json:"operation" yaml:"operation"`
	Gated     bool          `json:"gated" yaml:"gated"`
	Limit     int           `json:"limit" yaml:"limit"`
	Window    time.Duration `json:"window" yaml:"window"`
	InUse     int           `json:"in_use" yaml:"in_use"`
}

// Remaining returns the calls still admissible in the current window.
func (r LimitRow) Remaining() int {
	if !r.Gated {
		return 0
	}
	if left := r.Limit - r.InUse; left > 0 {
		return left
	}
	return 0
}

// FormatLimits renders admission windows as a table.
func FormatLimits(rows []LimitRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Operation", "Limit", "Window", "In Use", "Remaining"})

	for _, r := range rows {
		if !r.Gated {
			t.AppendRow(table.Row{r.Operation, "ungated", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			r.Operation,
			r.Limit,
			r.Window.String(),
			r.InUse,
			r.Remaining(),
		})
	}

	if len(rows) == 0 {
		t.AppendFooter(table.Row{"", "", "", "", "no operations"})
	} else {
		t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d operations", len(rows))})
	}

	return t.Render()
}
