//go:build unix

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/musher-dev/spawn/internal/config"
	clierrors "github.com/musher-dev/spawn/internal/errors"
	"github.com/musher-dev/spawn/internal/launch"
	"github.com/musher-dev/spawn/internal/observability"
	"github.com/musher-dev/spawn/internal/output"
	"github.com/musher-dev/spawn/internal/transcript"
)

type runOptions struct {
	mode       modeFlag
	dir        string
	env        []string
	clearEnv   bool
	redirect   bool
	pty        bool
	record     bool
	helperPath string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] -- <program> [args...]",
		Short: "Launch a program and wait for it",
		Long: `Launch a program with the selected strategy, wait for it to exit, and exit
with its status. A program that cannot be executed is reported before it runs,
with exit code 127 when it was not found and 126 when it could not be run.
A program killed by a signal yields 128 plus the signal number.

With --record the program's output is also saved as a session that
'spawn sessions show' can replay.`,
		Example: `  spawn run -- ls -l /tmp
  spawn run --mode vfork --dir /srv --env LANG=C -- ./build.sh
  spawn run --clear-env --env PATH=/usr/bin -- env
  spawn run --pty -- top
  spawn run --record -- make test`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, &opts, args)
		},
	}

	// Everything after the program name belongs to the program.
	cmd.Flags().SetInterspersed(false)

	addModeFlag(cmd, &opts.mode)
	cmd.Flags().StringVarP(&opts.dir, "dir", "C", "", "Working directory for the program")
	cmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "Set an environment variable (KEY=VALUE, repeatable)")
	cmd.Flags().BoolVar(&opts.clearEnv, "clear-env", false, "Start from an empty environment")
	cmd.Flags().BoolVar(&opts.redirect, "redirect-stderr", false, "Send the program's stderr to its stdout")
	cmd.Flags().BoolVarP(&opts.pty, "pty", "t", false, "Run the program on a new pseudo-terminal")
	cmd.Flags().BoolVarP(&opts.record, "record", "r", false, "Record the program's output as a session")
	cmd.Flags().StringVar(&opts.helperPath, "helper", "", "Path to spawnhelper (overrides launch.helper_path)")

	return cmd
}

func runProgram(cmd *cobra.Command, opts *runOptions, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	mode := opts.mode.mode
	if !opts.mode.set {
		m, err := cfg.LaunchMode()
		if err != nil {
			return clierrors.InvalidMode(cfg.GetString(config.KeyLaunchMode))
		}

		mode = m
	}

	env, err := buildEnv(os.Environ(), opts.env, opts.clearEnv)
	if err != nil {
		return err
	}

	observability.FromContext(ctx).Debug("run requested",
		slog.String("event.type", "run.start"),
		slog.String("launch.mode", mode.String()),
		slog.Any("launch.env", opts.env),
		slog.Bool("run.pty", opts.pty),
	)

	l := newLauncher(ctx, cfg, opts.helperPath)

	req := launch.Request{
		Mode:                mode,
		Program:             args[0],
		Argv:                args,
		Env:                 env,
		Dir:                 opts.dir,
		StdFds:              launch.InheritStdio,
		RedirectErrorStream: opts.redirect,
	}

	var rec *transcript.Store

	if opts.record {
		rec, err = startRecording(cfg, req)
		if err != nil {
			return err
		}

		defer func() {
			if err := rec.Close(); err != nil {
				observability.FromContext(ctx).Warn("session close failed", slog.String("error", err.Error()))
			}

			output.FromContext(ctx).Error("spawn: recorded session %s\n", rec.SessionID())
		}()
	}

	if opts.pty {
		return runOnPTY(ctx, l, req, rec, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	if rec != nil {
		req.StdFds = [3]int{0, launch.PipeFd, launch.PipeFd}
	}

	relay := startSignalRelay()
	defer relay.stop()

	proc, err := l.Launch(ctx, req)
	if err != nil {
		return clierrors.FromLaunch(args[0], err)
	}

	defer proc.Close()

	relay.target(proc.Pid)

	if rec != nil {
		if err := rec.SetPid(proc.Pid); err != nil {
			observability.FromContext(ctx).Warn("session meta update failed", slog.String("error", err.Error()))
		}

		teeOutput(ctx, proc, rec, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	return finishRun(proc, rec)
}

// startRecording opens a session store for req under the configured
// sessions directory.
func startRecording(cfg *config.Config, req launch.Request) (*transcript.Store, error) {
	dir, err := cfg.SessionsDir()
	if err != nil {
		return nil, clierrors.Wrap(clierrors.ExitConfig, "Cannot resolve the sessions directory", err)
	}

	rec, err := transcript.NewStore(transcript.Options{
		SessionID: uuid.NewString(),
		Dir:       dir,
		Program:   req.Program,
		Argv:      req.Argv,
		Mode:      req.Mode.String(),
	})
	if err != nil {
		return nil, clierrors.Wrap(clierrors.ExitGeneral, "Cannot start recording", err).
			WithHint("Check permissions on " + dir + " or set sessions.dir")
	}

	return rec, nil
}

// teeOutput copies the child's piped streams to the terminal and the
// recording until both reach EOF.
func teeOutput(ctx context.Context, proc *launch.Process, rec *transcript.Store, stdout, stderr io.Writer) {
	var wg sync.WaitGroup

	tee := func(src io.Reader, dst io.Writer, stream string) {
		defer wg.Done()

		if _, err := io.Copy(io.MultiWriter(dst, rec.Writer(stream)), src); err != nil {
			observability.FromContext(ctx).Debug("output copy stopped",
				slog.String("stream", stream),
				slog.String("error", err.Error()),
			)
			// Keep draining so the child never blocks on a full pipe.
			_, _ = io.Copy(dst, src)
		}
	}

	if proc.Stdout != nil {
		wg.Add(1)

		go tee(proc.Stdout, stdout, transcript.StreamStdout)
	}

	if proc.Stderr != nil {
		wg.Add(1)

		go tee(proc.Stderr, stderr, transcript.StreamStderr)
	}

	wg.Wait()
}

// finishRun waits for proc, records its exit code, and turns a non-zero
// code into the CLI's exit status.
func finishRun(proc *launch.Process, rec *transcript.Store) error {
	ws, err := proc.Wait()
	if err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Failed to wait for the program", err)
	}

	code := exitCode(ws)

	if rec != nil {
		rec.SetExitCode(code)
	}

	if code != 0 {
		return &exitError{code: code}
	}

	return nil
}

func newLauncher(ctx context.Context, cfg *config.Config, helperOverride string) *launch.Launcher {
	helperPath := helperOverride
	if helperPath == "" {
		helperPath = cfg.HelperPath()
	}

	return launch.New(launch.Options{
		HelperPath: helperPath,
		Logger:     observability.FromContext(ctx),
	})
}

// buildEnv returns nil (inherit) when nothing is overridden. Otherwise it
// starts from base, or from nothing with clear, and applies each KEY=VALUE
// in order, later entries replacing earlier ones.
func buildEnv(base, overrides []string, clear bool) ([]string, error) {
	if !clear && len(overrides) == 0 {
		return nil, nil
	}

	env := []string{}
	if !clear {
		env = append(env, base...)
	}

	for _, kv := range overrides {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, clierrors.InvalidEnv(kv)
		}

		env = setEnv(env, key, kv)
	}

	return env, nil
}

func setEnv(env []string, key, kv string) []string {
	prefix := key + "="
	for i, existing := range env {
		if strings.HasPrefix(existing, prefix) {
			env[i] = kv
			return env
		}
	}

	return append(env, kv)
}

// exitCode maps a wait status to a shell-style exit code.
func exitCode(ws syscall.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return clierrors.ExitGeneral
	}
}

// signalRelay keeps spawn alive through the signals a terminal sends to
// the whole foreground group, so it can collect the child's status, and
// forwards SIGTERM and SIGHUP, which usually target spawn alone.
//
// SIGINT and SIGQUIT are caught and dropped rather than ignored: an ignored
// disposition survives execve and the child would inherit it.
type signalRelay struct {
	ch   chan os.Signal
	pid  chan int
	done chan struct{}
}

func startSignalRelay() *signalRelay {
	r := &signalRelay{
		ch:   make(chan os.Signal, 4),
		pid:  make(chan int, 1),
		done: make(chan struct{}),
	}

	signal.Notify(r.ch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)

	go r.loop()

	return r
}

func (r *signalRelay) loop() {
	pid := 0

	for {
		select {
		case <-r.done:
			return
		case pid = <-r.pid:
		case sig := <-r.ch:
			if sig != syscall.SIGTERM && sig != syscall.SIGHUP {
				continue
			}

			if s, ok := sig.(syscall.Signal); ok && pid > 0 {
				_ = syscall.Kill(pid, s)
			}
		}
	}
}

// target starts forwarding to pid. Signals that arrived before the child
// existed are dropped.
func (r *signalRelay) target(pid int) {
	r.pid <- pid
}

func (r *signalRelay) stop() {
	signal.Stop(r.ch)
	close(r.done)
}
