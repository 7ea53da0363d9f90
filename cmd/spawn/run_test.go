//go:build linux

package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"

	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/helper"
	"github.com/musher-dev/spawn/internal/launch"
)

const helperEnvVar = "SPAWN_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnvVar) == "1" {
		os.Exit(helper.Main(os.Args))
	}

	os.Exit(m.Run())
}

// useTestHelper makes this test binary act as spawnhelper and returns the
// --helper value that selects it.
func useTestHelper(t *testing.T) string {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	t.Setenv(helperEnvVar, "1")

	return exe
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()

	if err == nil {
		return 0
	}

	out, _, _ := newTestWriter()

	return handleError(out, err)
}

func TestRunProxiesExitStatus(t *testing.T) {
	for _, mode := range launch.ModeNames() {
		t.Run(mode, func(t *testing.T) {
			isolateDirs(t)

			args := []string{"run", "--mode", mode}
			if mode == launch.HelperDelegated.String() {
				args = append(args, "--helper", useTestHelper(t))
			}

			_, _, err := executeCmd(t, "", append(args, "--", "/bin/sh", "-c", "exit 3")...)

			if got := exitCodeOf(t, err); got != 3 {
				t.Fatalf("exit code = %d, want 3 (err %v)", got, err)
			}
		})
	}
}

func TestRunSignaledChild(t *testing.T) {
	isolateDirs(t)

	_, _, err := executeCmd(t, "", "run", "--mode", "vfork", "--", "/bin/sh", "-c", "kill -TERM $$")

	if got, want := exitCodeOf(t, err), 128+int(syscall.SIGTERM); got != want {
		t.Fatalf("exit code = %d, want %d", got, want)
	}
}

func TestRunExecFailures(t *testing.T) {
	dir := t.TempDir()

	notExec := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(notExec, []byte("plain text\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		program string
		want    int
	}{
		{name: "missing program", program: "spawn-test-no-such-program", want: clierrors.ExitNotFound},
		{name: "missing absolute path", program: filepath.Join(dir, "absent"), want: clierrors.ExitNotFound},
		{name: "not executable", program: notExec, want: clierrors.ExitCannotExecute},
	}

	for _, tt := range tests {
		for _, mode := range launch.ModeNames() {
			t.Run(tt.name+"/"+mode, func(t *testing.T) {
				isolateDirs(t)

				args := []string{"run", "--mode", mode}
				if mode == launch.HelperDelegated.String() {
					args = append(args, "--helper", useTestHelper(t))
				}

				_, _, err := executeCmd(t, "", append(args, "--", tt.program)...)

				var cliErr *clierrors.CLIError
				if !clierrors.As(err, &cliErr) {
					t.Fatalf("expected CLIError, got %T: %v", err, err)
				}

				if cliErr.Code != tt.want {
					t.Errorf("exit code = %d, want %d (%s)", cliErr.Code, tt.want, cliErr.Message)
				}
			})
		}
	}
}

func TestRunEnvAndDir(t *testing.T) {
	isolateDirs(t)

	work := t.TempDir()
	script := `printf '%s|%s|%s' "$SPAWN_RUN_A" "${HOME-unset}" "$PWD" > result`

	_, _, err := executeCmd(t, "",
		"run", "--mode", "fork", "--clear-env",
		"--env", "SPAWN_RUN_A=first", "--env", "SPAWN_RUN_A=second",
		"--dir", work,
		"--", "/bin/sh", "-c", script,
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(work, "result"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}

	if want := "second|unset|" + work; string(got) != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestRunModeFromConfig(t *testing.T) {
	isolateDirs(t)
	t.Setenv("SPAWN_LAUNCH_MODE", "not-a-mode")

	_, _, err := executeCmd(t, "", "run", "--", "/bin/true")

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) {
		t.Fatalf("expected CLIError, got %T: %v", err, err)
	}

	if cliErr.Code != clierrors.ExitUsage || !strings.Contains(cliErr.Message, "not-a-mode") {
		t.Errorf("got %d %q, want usage error naming the mode", cliErr.Code, cliErr.Message)
	}

	t.Setenv("SPAWN_LAUNCH_MODE", "vfork")

	if _, _, err := executeCmd(t, "", "run", "--", "/bin/true"); err != nil {
		t.Errorf("run with configured vfork: %v", err)
	}
}

func TestRunOnPTY(t *testing.T) {
	isolateDirs(t)

	stdout, _, err := executeCmd(t, "",
		"run", "--pty", "--mode", "vfork", "--",
		"/bin/sh", "-c", `if [ -t 1 ]; then echo spawn-pty-marker; fi`,
	)
	if err != nil {
		t.Fatalf("run --pty: %v", err)
	}

	if !strings.Contains(stdout, "spawn-pty-marker") {
		t.Errorf("stdout = %q, want the child to see a terminal", stdout)
	}
}

func TestBuildEnv(t *testing.T) {
	base := []string{"HOME=/home/u", "LANG=C"}

	tests := []struct {
		name      string
		overrides []string
		clear     bool
		want      []string
		wantErr   bool
	}{
		{name: "nothing overridden inherits", want: nil},
		{name: "clear with nothing is empty", clear: true, want: []string{}},
		{name: "replace keeps position", overrides: []string{"LANG=en_US.UTF-8"}, want: []string{"HOME=/home/u", "LANG=en_US.UTF-8"}},
		{name: "append new key", overrides: []string{"X="}, want: []string{"HOME=/home/u", "LANG=C", "X="}},
		{name: "value may contain equals", clear: true, overrides: []string{"A=b=c"}, want: []string{"A=b=c"}},
		{name: "missing equals", overrides: []string{"NOVALUE"}, wantErr: true},
		{name: "empty key", overrides: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildEnv(slices.Clone(base), tt.overrides, tt.clear)
			if tt.wantErr {
				var cliErr *clierrors.CLIError
				if !clierrors.As(err, &cliErr) || cliErr.Code != clierrors.ExitUsage {
					t.Fatalf("err = %v, want usage CLIError", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("buildEnv: %v", err)
			}

			if (got == nil) != (tt.want == nil) || !slices.Equal(got, tt.want) {
				t.Errorf("buildEnv() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		ws   syscall.WaitStatus
		want int
	}{
		{name: "success", ws: 0, want: 0},
		{name: "exit 2", ws: 2 << 8, want: 2},
		{name: "killed", ws: syscall.WaitStatus(syscall.SIGKILL), want: 137},
		{name: "stopped", ws: syscall.WaitStatus(0x7f | int(syscall.SIGSTOP)<<8), want: clierrors.ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.ws); got != tt.want {
				t.Errorf("exitCode(%#x) = %d, want %d", uint32(tt.ws), got, tt.want)
			}
		})
	}
}
