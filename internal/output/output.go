// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates and normalizes a format string. An empty value
// selects fallback.
func ParseFormat(value string, fallback Format) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "":
		return fallback, nil
	case string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Write renders value in format to w. Table output is only defined for
// limit rows.
func Write(w io.Writer, format Format, value any) error {
	var (
		rendered string
		err      error
	)

	switch format {
	case FormatJSON:
		rendered, err = FormatJSONValue(value, true)
	case FormatYAML:
		rendered, err = FormatYAMLValue(value)
	case FormatTable:
		rows, ok := value.([]LimitRow)
		if !ok {
			return fmt.Errorf("table output is not supported for %T", value)
		}
		rendered = FormatLimits(rows)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return err
	}

	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}
	_, err = io.WriteString(w, rendered)
	return err
}
