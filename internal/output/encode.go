package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format selects how structured values are rendered.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid format %q (allowed: json, yaml, toml)", s)
	}
}

// Marshal renders v in the given format. TOML needs a table at the top
// level, so v must be a struct or map for FormatTOML.
func Marshal(format Format, v any) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")

		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return nil, err
		}

		if err := enc.Close(); err != nil {
			return nil, err
		}
	case FormatTOML:
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)

		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid format %q", format)
	}

	return buf.Bytes(), nil
}

// PrintJSON outputs structured data as indented JSON.
func (w *Writer) PrintJSON(v any) error {
	return w.PrintAs(FormatJSON, v)
}

// PrintAs renders v to Out. Quiet does not suppress it: structured output
// is the command's result, not decoration.
func (w *Writer) PrintAs(format Format, v any) error {
	data, err := Marshal(format, v)
	if err != nil {
		return err
	}

	_, err = w.Out.Write(data)

	return err
}
