//go:build unix

package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sys/unix"

	"github.com/musher-dev/spawn/internal/buildinfo"
	"github.com/musher-dev/spawn/internal/launch"
	"github.com/musher-dev/spawn/internal/pathvec"
)

const versionTimeout = 5 * time.Second

// Options selects what the default checks inspect.
type Options struct {
	// Launcher runs the smoke launches; its helper path is the one checked.
	Launcher *launch.Launcher
	// ConfigFile is checked for readability when set.
	ConfigFile string
	// LauncherVersion defaults to buildinfo.Version.
	LauncherVersion string
	// SmokeProgram is launched once per mode. Defaults to "true".
	SmokeProgram string
}

// New creates a runner with the default checks registered.
func New(opts Options) *Runner {
	if opts.LauncherVersion == "" {
		opts.LauncherVersion = buildinfo.Version
	}

	if opts.SmokeProgram == "" {
		opts.SmokeProgram = "true"
	}

	helperPath := opts.Launcher.HelperPath()

	r := &Runner{}
	r.AddCheck("Helper binary", func(context.Context) Result { return checkHelperBinary(helperPath) })
	r.AddCheck("Helper version", func(ctx context.Context) Result {
		return checkHelperVersion(ctx, helperPath, opts.LauncherVersion)
	})
	r.AddCheck("Search path", func(context.Context) Result { return checkSearchPath(launch.EffectivePath()) })

	for _, mode := range []launch.Mode{launch.DirectFork, launch.SpeculativeFork, launch.HelperDelegated} {
		r.AddCheck("Launch ("+mode.String()+")", func(ctx context.Context) Result {
			return checkLaunch(ctx, opts.Launcher, mode, opts.SmokeProgram)
		})
	}

	if opts.ConfigFile != "" {
		r.AddCheck("Config file", func(context.Context) Result { return checkConfigFile(opts.ConfigFile) })
	}

	return r
}

func checkHelperBinary(path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: path,
			Detail:  err.Error(),
		}
	}

	if !info.Mode().IsRegular() {
		return Result{
			Status:  StatusFail,
			Message: path,
			Detail:  "not a regular file",
		}
	}

	if err := unix.Access(path, unix.X_OK); err != nil {
		return Result{
			Status:  StatusFail,
			Message: path,
			Detail:  "not executable: " + err.Error(),
		}
	}

	return Result{Status: StatusPass, Message: path}
}

func checkHelperVersion(ctx context.Context, path, launcherVersion string) Result {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: "could not query helper version",
			Detail:  err.Error(),
		}
	}

	return compareVersions(strings.TrimSpace(string(out)), launcherVersion)
}

// compareVersions decides whether a helper reporting helperVersion will
// accept a launcher built as launcherVersion. The handshake requires the
// exact build string, so only identical versions pass.
func compareVersions(helperVersion, launcherVersion string) Result {
	if helperVersion == launcherVersion {
		if launcherVersion == "dev" {
			return Result{Status: StatusWarn, Message: "dev (development build on both sides)"}
		}

		return Result{Status: StatusPass, Message: helperVersion + " (matches launcher)"}
	}

	hv, herr := semver.NewVersion(helperVersion)
	lv, lerr := semver.NewVersion(launcherVersion)

	if herr != nil || lerr != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("helper %q, launcher %q", helperVersion, launcherVersion),
			Detail:  "Reinstall spawn so both binaries come from the same build",
		}
	}

	relation := "newer"
	if hv.LessThan(lv) {
		relation = "older"
	}

	detail := "Reinstall spawn so both binaries come from the same build"
	if hv.Equal(lv) {
		// 1.2.0 and v1.2.0 name the same release but fail the handshake.
		relation = "spelled differently from"
		detail = "Rebuild both binaries with the same version string"
	}

	return Result{
		Status:  StatusFail,
		Message: fmt.Sprintf("helper %s is %s than launcher %s", hv.Original(), relation, lv.Original()),
		Detail:  detail,
	}
}

func checkSearchPath(v pathvec.Vector) Result {
	if _, set := os.LookupEnv("PATH"); !set {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("PATH unset, searching %q", pathvec.DefaultPath),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d entries", len(v)),
	}
}

func checkLaunch(ctx context.Context, l *launch.Launcher, mode launch.Mode, program string) Result {
	start := time.Now()

	proc, err := l.Launch(ctx, launch.Request{
		Mode:    mode,
		Program: program,
		Argv:    []string{program},
		StdFds:  launch.PipeStdio,
	})
	if err != nil {
		res := Result{
			Status:  StatusFail,
			Message: launch.KindOf(err).String(),
			Detail:  err.Error(),
		}

		var le *launch.Error
		if errors.As(err, &le) && le.Kind == launch.LaunchMechanismFailure {
			res.Status = StatusWarn
		}

		return res
	}

	defer proc.Close()

	ws, err := proc.Wait()
	if err != nil {
		return Result{Status: StatusFail, Message: "wait failed", Detail: err.Error()}
	}

	if !ws.Exited() || ws.ExitStatus() != 0 {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s exited abnormally (status 0x%x)", program, uint32(ws)),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("pid %d ran %s (%dms)", proc.Pid, program, time.Since(start).Milliseconds()),
	}
}

func checkConfigFile(path string) Result {
	_, err := os.ReadFile(path)

	switch {
	case err == nil:
		return Result{Status: StatusPass, Message: path}
	case errors.Is(err, fs.ErrNotExist):
		return Result{Status: StatusPass, Message: "not present (using defaults)"}
	default:
		return Result{Status: StatusFail, Message: path, Detail: err.Error()}
	}
}
