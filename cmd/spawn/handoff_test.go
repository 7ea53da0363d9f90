package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/handoff"
)

const sampleDocument = `program: /usr/bin/env
argv: [env, -0]
env: [LANG=C, TZ=UTC]
dir: /srv
path: [/usr/local/bin, /usr/bin]
std_fds: [5, 6, 7]
handoff_fd: 3
fail_fd: 4
mode: vfork
redirect_error_stream: true
send_alive: true
`

func TestHandoffEncodeDecodeRoundTrip(t *testing.T) {
	isolateDirs(t)

	payloadFile := filepath.Join(t.TempDir(), "payload.bin")

	if _, _, err := executeCmd(t, sampleDocument, "handoff", "encode", "--out", payloadFile); err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw, err := os.ReadFile(payloadFile)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}

	p, err := handoff.Decode(raw)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}

	if p.Header.StdFds != [3]int32{5, 6, 7} || !p.Header.RedirectErrorStream() || !p.Header.SendAlive() {
		t.Errorf("header = %+v", p.Header)
	}

	stdout, _, err := executeCmd(t, "", "handoff", "decode", payloadFile)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var got handoffDocument
	if err := yaml.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode output is not YAML: %v\n%s", err, stdout)
	}

	if got.Program != "/usr/bin/env" || got.Mode != "vfork" || got.Dir != "/srv" || got.InheritEnv {
		t.Errorf("decoded = %+v", got)
	}

	if !slices.Equal(got.Env, []string{"LANG=C", "TZ=UTC"}) || !slices.Equal(got.Argv, []string{"env", "-0"}) {
		t.Errorf("decoded env/argv = %v / %v", got.Env, got.Argv)
	}
}

func TestHandoffDecodeFormats(t *testing.T) {
	isolateDirs(t)

	payloadFile := filepath.Join(t.TempDir(), "payload.bin")
	if _, _, err := executeCmd(t, "program: /bin/true\nargv: [true]\ninherit_env: true\npath: [/bin]\nmode: helper\n",
		"handoff", "encode", "--out", payloadFile); err != nil {
		t.Fatalf("encode: %v", err)
	}

	t.Run("toml", func(t *testing.T) {
		stdout, _, err := executeCmd(t, "", "handoff", "decode", "--format", "toml", payloadFile)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		var got handoffDocument
		if err := toml.Unmarshal([]byte(stdout), &got); err != nil {
			t.Fatalf("not TOML: %v\n%s", err, stdout)
		}

		if !got.InheritEnv || got.Env != nil || got.Mode != "helper" {
			t.Errorf("decoded = %+v", got)
		}

		if !slices.Equal(got.StdFds, []int32{0, 1, 2}) {
			t.Errorf("std_fds = %v, want defaults", got.StdFds)
		}
	})

	t.Run("json flag wins", func(t *testing.T) {
		stdout, _, err := executeCmd(t, "", "--json", "handoff", "decode", "--format", "toml", payloadFile)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		if !strings.HasPrefix(strings.TrimSpace(stdout), "{") || !strings.Contains(stdout, `"program": "/bin/true"`) {
			t.Errorf("stdout = %q, want JSON", stdout)
		}
	})
}

func TestHandoffEncodeHexToStdout(t *testing.T) {
	isolateDirs(t)

	stdout, _, err := executeCmd(t, "program: /bin/true\nargv: [true]\npath: [/bin]\n", "handoff", "encode", "--hex")
	if err != nil {
		t.Fatalf("encode --hex: %v", err)
	}

	if !strings.HasPrefix(stdout, "00000000  ") {
		t.Errorf("stdout = %q, want a hex dump", stdout)
	}
}

func TestHandoffRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  int
	}{
		{name: "unknown field", stdin: "program: /bin/true\nargv: [true]\nprogramm: x\n", args: []string{"handoff", "encode"}, want: clierrors.ExitUsage},
		{name: "wrong std_fds count", stdin: "program: /bin/true\nargv: [true]\nstd_fds: [0, 1]\n", args: []string{"handoff", "encode"}, want: clierrors.ExitUsage},
		{name: "empty argv", stdin: "program: /bin/true\n", args: []string{"handoff", "encode"}, want: clierrors.ExitUsage},
		{name: "bad mode", stdin: "program: /bin/true\nargv: [true]\nmode: clone\n", args: []string{"handoff", "encode"}, want: clierrors.ExitUsage},
		{name: "garbage payload", stdin: "not a payload", args: []string{"handoff", "decode"}, want: clierrors.ExitGeneral},
		{name: "bad format", stdin: "", args: []string{"handoff", "decode", "--format", "xml"}, want: clierrors.ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateDirs(t)

			_, _, err := executeCmd(t, tt.stdin, tt.args...)

			var cliErr *clierrors.CLIError
			if !clierrors.As(err, &cliErr) {
				t.Fatalf("expected CLIError, got %T: %v", err, err)
			}

			if cliErr.Code != tt.want {
				t.Errorf("code = %d, want %d (%s: %v)", cliErr.Code, tt.want, cliErr.Message, cliErr.Cause)
			}
		})
	}
}
