//go:build unix

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"

	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/launch"
	"github.com/musher-dev/spawn/internal/observability"
	"github.com/musher-dev/spawn/internal/terminal"
	"github.com/musher-dev/spawn/internal/transcript"
)

// drainTimeout bounds how long output is drained after the child exits. A
// grandchild still holding the terminal would otherwise block forever.
const drainTimeout = 2 * time.Second

// runOnPTY launches req with a new pseudo-terminal as all three std
// streams and relays it to in and out. rec, when set, records everything
// the terminal shows.
func runOnPTY(ctx context.Context, l *launch.Launcher, req launch.Request, rec *transcript.Store, in io.Reader, out io.Writer) error {
	logger := observability.FromContext(ctx)

	ptmx, tty, err := pty.Open()
	if err != nil {
		return clierrors.Wrap(clierrors.ExitExecution, "Failed to allocate a pseudo-terminal", err)
	}
	defer ptmx.Close()

	if f, ok := in.(*os.File); ok && terminal.IsTerminal(f) {
		if err := pty.InheritSize(f, ptmx); err != nil {
			logger.Debug("pty size inherit failed", slog.String("error", err.Error()))
		}

		stopResize := watchResize(f, ptmx)
		defer stopResize()

		restore, err := terminal.MakeRaw(f)
		if err != nil {
			logger.Debug("raw mode unavailable", slog.String("error", err.Error()))
		}
		defer restore()
	}

	fd := int(tty.Fd())
	req.StdFds = [3]int{fd, fd, fd}
	// The terminal already merges both streams.
	req.RedirectErrorStream = false

	proc, err := l.Launch(ctx, req)

	// The child holds its own copy; ours must go so reads on ptmx see EIO
	// once the child is gone.
	_ = tty.Close()

	if err != nil {
		return clierrors.FromLaunch(req.Program, err)
	}

	defer proc.Close()

	if rec != nil {
		if err := rec.SetPid(proc.Pid); err != nil {
			logger.Warn("session meta update failed", slog.String("error", err.Error()))
		}

		out = io.MultiWriter(out, rec.Writer(transcript.StreamPTY))
	}

	go func() {
		_, _ = io.Copy(ptmx, in)
	}()

	drained := make(chan struct{})

	go func() {
		defer close(drained)

		if _, err := io.Copy(out, ptmx); err != nil && !isPTYClosed(err) {
			logger.Debug("pty copy stopped", slog.String("error", err.Error()))
		}
	}()

	exitErr := finishRun(proc, rec)

	select {
	case <-drained:
	case <-time.After(drainTimeout):
	}

	return exitErr
}

// isPTYClosed reports the error Linux returns from a master whose slave
// side has no remaining holders.
func isPTYClosed(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

func watchResize(from, to *os.File) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				_ = pty.InheritSize(from, to)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
