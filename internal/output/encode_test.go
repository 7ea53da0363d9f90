package output

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type launchRecord struct {
	Program string   `json:"program" yaml:"program" toml:"program"`
	Argv    []string `json:"argv" yaml:"argv" toml:"argv"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "json", want: FormatJSON},
		{in: "YAML", want: FormatYAML},
		{in: "yml", want: FormatYAML},
		{in: " toml ", want: FormatTOML},
		{in: "xml", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}

		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	in := launchRecord{Program: "/bin/echo", Argv: []string{"echo", "hi there"}, Dir: "/tmp"}

	unmarshal := map[Format]func([]byte, any) error{
		FormatJSON: json.Unmarshal,
		FormatYAML: yaml.Unmarshal,
		FormatTOML: toml.Unmarshal,
	}

	for format, decode := range unmarshal {
		t.Run(string(format), func(t *testing.T) {
			data, err := Marshal(format, in)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}

			if !bytes.Contains(data, []byte("/bin/echo")) {
				t.Fatalf("Marshal() output missing program:\n%s", data)
			}

			var out launchRecord
			if err := decode(data, &out); err != nil {
				t.Fatalf("decode error = %v\n%s", err, data)
			}

			if !reflect.DeepEqual(out, in) {
				t.Fatalf("round trip = %+v, want %+v", out, in)
			}
		})
	}
}

func TestWriter_PrintAs(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Quiet = true

	if err := w.PrintJSON(map[string]string{"key": "value"}); err != nil {
		t.Fatalf("PrintJSON() error = %v", err)
	}

	if got, want := buf.String(), "{\n  \"key\": \"value\"\n}\n"; got != want {
		t.Fatalf("PrintJSON() = %q, want %q", got, want)
	}

	buf.Reset()

	if err := w.PrintAs(FormatYAML, launchRecord{Program: "true", Argv: []string{"true"}}); err != nil {
		t.Fatalf("PrintAs() error = %v", err)
	}

	if !strings.HasPrefix(buf.String(), "program: \"true\"\n") {
		t.Fatalf("PrintAs(yaml) = %q", buf.String())
	}
}
