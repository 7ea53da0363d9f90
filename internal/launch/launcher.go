//go:build unix

package launch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/musher-dev/spawn/internal/observability"
	"github.com/musher-dev/spawn/internal/pathvec"
)

// HelperName is the file name of the helper binary.
const HelperName = "spawnhelper"

// DefaultHelperPath returns spawnhelper next to the running executable.
func DefaultHelperPath() string {
	exe, err := os.Executable()
	if err != nil {
		return HelperName
	}

	return filepath.Join(filepath.Dir(exe), HelperName)
}

// Options configures a Launcher.
type Options struct {
	// HelperPath is the helper binary for HelperDelegated mode. Empty
	// means DefaultHelperPath.
	HelperPath string
	// HelperEnv is appended to the environment the helper starts with.
	// Targets that inherit their environment see these entries too.
	HelperEnv []string
	// Logger receives debug events for every launch. Nil uses
	// slog.Default.
	Logger *slog.Logger
}

// Launcher starts processes. A Launcher is safe for concurrent use; each
// Launch call owns its descriptors.
type Launcher struct {
	helperPath string
	helperEnv  []string
	logger     *slog.Logger
	path       pathvec.Vector
}

// New returns a Launcher, running Init first if no one has.
func New(opts Options) *Launcher {
	Init()

	l := &Launcher{
		helperPath: opts.HelperPath,
		helperEnv:  append([]string(nil), opts.HelperEnv...),
		logger:     opts.Logger,
		path:       EffectivePath(),
	}

	if l.helperPath == "" {
		l.helperPath = DefaultHelperPath()
	}

	if l.logger == nil {
		l.logger = slog.Default()
	}

	return l
}

// HelperPath is the helper binary this Launcher spawns.
func (l *Launcher) HelperPath() string { return l.helperPath }

// Launch starts req and blocks until the target has either replaced the
// launched process image or failed to. There is no timeout: ctx carries
// trace and log correlation only and cancellation is not observed.
//
// On success the returned Process owns the parent ends of any requested
// pipes. On failure no descriptor created by Launch remains open and any
// created process has been reaped. Errors are always *Error.
func (l *Launcher) Launch(ctx context.Context, req Request) (proc *Process, err error) {
	id := uuid.NewString()
	mode := req.Mode.resolve()

	_, span := observability.Tracer("spawn.launch").Start(ctx, "spawn.launch",
		trace.WithAttributes(
			attribute.String("launch.id", id),
			attribute.String("launch.mode", mode.String()),
			attribute.String("launch.program", req.Program),
			attribute.Int("launch.argc", len(req.Argv)),
		),
	)
	defer span.End()

	logger := l.logger.With(
		slog.String("component", "launch"),
		slog.String("launch.id", id),
		slog.String("launch.mode", mode.String()),
	)

	envc := -1
	if req.Env != nil {
		envc = len(req.Env)
	}

	logger.Debug(
		"launch starting",
		slog.String("event.type", "launch.start"),
		slog.String("launch.program", req.Program),
		slog.Int("launch.argc", len(req.Argv)),
		slog.Int("launch.envc", envc),
		slog.String("launch.dir", req.Dir),
	)

	defer func() {
		if err != nil {
			kind := KindOf(err)

			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
			logger.Debug(
				"launch failed",
				slog.String("event.type", "launch.fail"),
				slog.String("launch.error_kind", kind.String()),
				slog.String("error", err.Error()),
			)

			return
		}

		span.SetAttributes(attribute.Int("launch.pid", proc.Pid))
		span.SetStatus(codes.Ok, "")
		logger.Debug(
			"launch succeeded",
			slog.String("event.type", "launch.ok"),
			slog.Int("launch.pid", proc.Pid),
		)
	}()

	d, err := Build(req)
	if err != nil {
		return nil, err
	}

	return l.launch(d)
}

func (l *Launcher) launch(d *Descriptor) (*Process, error) {
	if err := checkStdFds(d); err != nil {
		return nil, err
	}

	ps := newPipeSet()
	ok := false

	defer func() {
		ps.closeChildSide()

		if !ok {
			ps.closeParentSide()
		}
	}()

	if err := ps.open(d); err != nil {
		return nil, sysError(ResourceExhaustion, "pipe", err)
	}

	pid, err := l.start(d, ps)
	if err != nil {
		return nil, err
	}

	// Only the child may hold a write end now, so EOF means it exec'd.
	closeFd(&ps.fail[1])

	if oerr := awaitOutcome(ps.fail[0], pid, d.mode == HelperDelegated); oerr != nil {
		return nil, oerr
	}

	p := newProcess(pid, d.mode, ps)
	ok = true

	return p, nil
}
