//go:build unix

// Package helper implements spawnhelper, the small trusted program the
// launcher spawns in helper mode. It reads one handoff payload, reports
// that it is alive, prepares its descriptors and working directory, and
// execs the target in place of itself.
package helper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/musher-dev/spawn/internal/buildinfo"
	"github.com/musher-dev/spawn/internal/handoff"
)

// Exit codes. A helper that exits without writing anything is reported by
// the launcher as a helper exec failure, with this code in the message.
const (
	ExitUsage      = 1
	ExitHandoff    = 1
	ExitExecFailed = 127
)

const usage = "spawnhelper is started by spawn to launch processes; it is not meant to be run by hand"

var (
	ErrUsage           = errors.New("expected <version> <handoff-fd>:<fail-fd>")
	ErrVersionMismatch = errors.New("launcher and helper versions differ")
	ErrBadDescriptor   = errors.New("invalid descriptor argument")
)

// Args are the helper's parsed command-line arguments.
type Args struct {
	Version   string
	HandoffFd int
	FailFd    int
}

// ParseArgs parses [helper, version, "handoff:fail"]. Both descriptors must
// be open and above the std streams.
func ParseArgs(args []string) (Args, error) {
	if len(args) != 3 {
		return Args{}, ErrUsage
	}

	a := Args{Version: args[1]}
	if a.Version != buildinfo.Version {
		return Args{}, fmt.Errorf("%w: launcher %q, helper %q", ErrVersionMismatch, a.Version, buildinfo.Version)
	}

	h, f, ok := strings.Cut(args[2], ":")
	if !ok {
		return Args{}, fmt.Errorf("%w: %q", ErrBadDescriptor, args[2])
	}

	var err error
	if a.HandoffFd, err = parseFd(h); err != nil {
		return Args{}, err
	}

	if a.FailFd, err = parseFd(f); err != nil {
		return Args{}, err
	}

	if a.HandoffFd == a.FailFd {
		return Args{}, fmt.Errorf("%w: handoff and fail descriptors are both %d", ErrBadDescriptor, a.FailFd)
	}

	return a, nil
}

func parseFd(s string) (int, error) {
	fd, err := strconv.Atoi(s)
	if err != nil || fd < 3 {
		return 0, fmt.Errorf("%w: %q", ErrBadDescriptor, s)
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return 0, fmt.Errorf("%w: fd %d: %w", ErrBadDescriptor, fd, err)
	}

	return fd, nil
}

// Main is the whole spawnhelper program. It returns only when the target
// could not be started.
func Main(args []string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 2 && (args[1] == "--version" || args[1] == "version") {
		fmt.Fprintln(stdout, buildinfo.Version)
		return 0
	}

	a, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "spawnhelper: %v\n%s\n", err, usage)
		return ExitUsage
	}

	return Run(a.HandoffFd, a.FailFd)
}

// Run reads the payload from handoffFd and execs the target. Failures are
// reported on failFd: a payload that cannot be decoded is answered with an
// errno-style code in place of the alive word, and an exec failure with the
// exec errno after it. Only one status follows the alive word.
func Run(handoffFd, failFd int) int {
	in := os.NewFile(uintptr(handoffFd), "handoff")
	p, err := handoff.ReadFrom(in)
	_ = in.Close()

	if err != nil {
		_ = writeStatus(failFd, int32(handoff.ErrnoFor(err)))
		return ExitHandoff
	}

	if p.Header.SendAlive() {
		if err := writeStatus(failFd, handoff.AliveWord); err != nil {
			return ExitHandoff
		}
	}

	errno := execTarget(p)

	_ = writeStatus(failFd, int32(errno))

	return ExitExecFailed
}

func writeStatus(fd int, v int32) error {
	b := handoff.StatusWord(v)
	buf := b[:]

	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return err
		}

		buf = buf[n:]
	}

	return nil
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return syscall.EIO
}
