package output

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// FormatYAMLValue renders value as YAML with two-space indentation.
func FormatYAMLValue(value any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
