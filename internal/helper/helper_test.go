//go:build linux

package helper

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/musher-dev/spawn/internal/buildinfo"
	"github.com/musher-dev/spawn/internal/handoff"
	"github.com/musher-dev/spawn/internal/pathvec"
)

func rawPipe(t *testing.T) (r, w int) {
	t.Helper()

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}

	t.Cleanup(func() {
		// Either end may already be closed by the code under test.
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})

	return p[0], p[1]
}

func TestParseArgs(t *testing.T) {
	r, w := rawPipe(t)
	fds := fmt.Sprintf("%d:%d", r, w)

	tests := []struct {
		name    string
		args    []string
		want    Args
		wantErr error
	}{
		{
			name: "valid",
			args: []string{"spawnhelper", buildinfo.Version, fds},
			want: Args{Version: buildinfo.Version, HandoffFd: r, FailFd: w},
		},
		{name: "no arguments", args: []string{"spawnhelper"}, wantErr: ErrUsage},
		{name: "extra argument", args: []string{"spawnhelper", buildinfo.Version, fds, "x"}, wantErr: ErrUsage},
		{name: "version mismatch", args: []string{"spawnhelper", "0.0.0-other", fds}, wantErr: ErrVersionMismatch},
		{name: "missing separator", args: []string{"spawnhelper", buildinfo.Version, "34"}, wantErr: ErrBadDescriptor},
		{name: "std stream descriptor", args: []string{"spawnhelper", buildinfo.Version, fmt.Sprintf("1:%d", w)}, wantErr: ErrBadDescriptor},
		{name: "not a number", args: []string{"spawnhelper", buildinfo.Version, fmt.Sprintf("%d:x", r)}, wantErr: ErrBadDescriptor},
		{name: "closed descriptor", args: []string{"spawnhelper", buildinfo.Version, fmt.Sprintf("%d:4093", r)}, wantErr: ErrBadDescriptor},
		{name: "same descriptor twice", args: []string{"spawnhelper", buildinfo.Version, fmt.Sprintf("%d:%d", r, r)}, wantErr: ErrBadDescriptor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseArgs() error = %v, want %v", err, tt.wantErr)
				}

				return
			}

			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}

			if got != tt.want {
				t.Fatalf("ParseArgs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRunVersionAndUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if code := run([]string{"spawnhelper", "--version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("--version exit = %d", code)
	}

	if got := stdout.String(); got != buildinfo.Version+"\n" {
		t.Fatalf("--version output = %q", got)
	}

	stdout.Reset()

	if code := run([]string{"spawnhelper"}, &stdout, &stderr); code != ExitUsage {
		t.Fatalf("no-args exit = %d, want %d", code, ExitUsage)
	}

	if !strings.Contains(stderr.String(), "not meant to be run by hand") {
		t.Fatalf("usage text missing from stderr: %q", stderr.String())
	}
}

func readStatus(t *testing.T, fd int) []int32 {
	t.Helper()

	var out []int32

	for {
		var b [4]byte

		n, err := unix.Read(fd, b[:])
		if err != nil {
			t.Fatalf("read fail pipe: %v", err)
		}

		if n == 0 {
			return out
		}

		if n != len(b) {
			t.Fatalf("short status word: %d bytes", n)
		}

		out = append(out, int32(binary.NativeEndian.Uint32(b[:])))
	}
}

func TestRunAnswersBadPayloadWithCode(t *testing.T) {
	valid, err := handoff.Encode(&handoff.Payload{
		Header:  handoff.Header{Flags: handoff.FlagSendAlive},
		Program: "/bin/true",
		Argv:    []string{"true"},
		Path:    []string{"/bin"},
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
		want  syscall.Errno
	}{
		{name: "foreign bytes", input: []byte("not a payload at all"), want: syscall.EPROTO},
		{name: "truncated", input: valid[:len(valid)-3], want: syscall.EIO},
		{name: "empty", input: nil, want: syscall.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr, hw := rawPipe(t)
			fr, fw := rawPipe(t)

			if _, err := unix.Write(hw, tt.input); len(tt.input) > 0 && err != nil {
				t.Fatalf("write handoff: %v", err)
			}

			_ = unix.Close(hw)

			if code := Run(hr, fw); code != ExitHandoff {
				t.Fatalf("Run() = %d, want %d", code, ExitHandoff)
			}

			_ = unix.Close(fw)

			got := readStatus(t, fr)
			if len(got) != 1 || syscall.Errno(got[0]) != tt.want {
				t.Fatalf("status words = %v, want [%d]", got, tt.want)
			}

			if got[0] == handoff.AliveWord {
				t.Fatal("helper acknowledged a payload it could not decode")
			}
		})
	}
}

type execCall struct {
	file string
	argv []string
}

func fakeExec(t *testing.T, results map[string]syscall.Errno) *[]execCall {
	t.Helper()

	var calls []execCall

	orig := execve
	execve = func(file string, argv, _ []string) error {
		calls = append(calls, execCall{file: file, argv: append([]string(nil), argv...)})

		if errno, ok := results[file]; ok {
			return errno
		}

		return syscall.ENOENT
	}

	t.Cleanup(func() { execve = orig })

	return &calls
}

func TestExecSearch(t *testing.T) {
	path := pathvec.Vector{"/a", ".", "/c"}

	tests := []struct {
		name      string
		program   string
		results   map[string]syscall.Errno
		want      syscall.Errno
		wantFiles []string
	}{
		{
			name:      "nothing found",
			program:   "prog",
			want:      syscall.ENOENT,
			wantFiles: []string{"/a/prog", "./prog", "/c/prog"},
		},
		{
			name:      "permission denied is sticky",
			program:   "prog",
			results:   map[string]syscall.Errno{"./prog": syscall.EACCES},
			want:      syscall.EACCES,
			wantFiles: []string{"/a/prog", "./prog", "/c/prog"},
		},
		{
			name:      "other errors stop the search",
			program:   "prog",
			results:   map[string]syscall.Errno{"/a/prog": syscall.ENOTDIR, "./prog": syscall.E2BIG},
			want:      syscall.E2BIG,
			wantFiles: []string{"/a/prog", "./prog"},
		},
		{
			name:      "slash skips the search",
			program:   "/opt/prog",
			results:   map[string]syscall.Errno{"/opt/prog": syscall.ENOENT},
			want:      syscall.ENOENT,
			wantFiles: []string{"/opt/prog"},
		},
		{
			name:      "script fallback",
			program:   "prog",
			results:   map[string]syscall.Errno{"/a/prog": syscall.ENOEXEC, pathvec.Interpreter: syscall.E2BIG},
			want:      syscall.E2BIG,
			wantFiles: []string{"/a/prog", pathvec.Interpreter},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := fakeExec(t, tt.results)

			got := execSearch(tt.program, []string{"prog", "arg"}, nil, path)
			if got != tt.want {
				t.Fatalf("execSearch() = %v, want %v", got, tt.want)
			}

			var files []string
			for _, c := range *calls {
				files = append(files, c.file)
			}

			if !reflect.DeepEqual(files, tt.wantFiles) {
				t.Fatalf("exec attempts = %v, want %v", files, tt.wantFiles)
			}
		})
	}
}

func TestShellFallbackArgv(t *testing.T) {
	calls := fakeExec(t, map[string]syscall.Errno{
		"/a/prog":           syscall.ENOEXEC,
		pathvec.Interpreter: syscall.ENOMEM,
	})

	execSearch("prog", []string{"prog", "one", "two"}, nil, pathvec.Vector{"/a"})

	if len(*calls) != 2 {
		t.Fatalf("exec calls = %d, want 2", len(*calls))
	}

	want := []string{pathvec.Interpreter, "/a/prog", "one", "two"}
	if got := (*calls)[1].argv; !reflect.DeepEqual(got, want) {
		t.Fatalf("shell argv = %q, want %q", got, want)
	}
}
