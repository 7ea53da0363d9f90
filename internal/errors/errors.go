// Package errors provides structured CLI error types for spawn.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// so every command reports failures the same way.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/musher-dev/spawn/internal/launch"
)

// Exit codes for CLI errors. Codes 126 and 127 follow the shell convention
// for a target that was found but could not run, and one that was not found.
const (
	ExitSuccess       = 0
	ExitGeneral       = 1
	ExitConfig        = 4
	ExitExecution     = 6
	ExitHelper        = 7
	ExitUsage         = 64
	ExitCannotExecute = 126
	ExitNotFound      = 127
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the process exit code.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// FromLaunch converts a launch failure into a CLIError whose exit code
// reflects which stage failed.
func FromLaunch(program string, err error) *CLIError {
	var le *launch.Error
	if !errors.As(err, &le) {
		return Wrap(ExitGeneral, "Launch failed", err)
	}

	switch le.Kind {
	case launch.InvalidArgument:
		return &CLIError{
			Message: "Invalid launch request",
			Hint:    "Check the program, arguments, and --env values",
			Cause:   err,
			Code:    ExitUsage,
		}
	case launch.TargetExecFailure:
		return TargetExecFailed(program, le.Errno, err)
	case launch.HelperExecFailure, launch.ProtocolError:
		return &CLIError{
			Message: "Spawn helper failed",
			Hint:    le.Hint(),
			Cause:   err,
			Code:    ExitHelper,
		}
	case launch.ResourceExhaustion:
		return &CLIError{
			Message: "Out of descriptors or memory",
			Hint:    "Raise the open file limit (ulimit -n) or reduce concurrent launches",
			Cause:   err,
			Code:    ExitGeneral,
		}
	case launch.LaunchMechanismFailure:
		return &CLIError{
			Message: "Launch mechanism unavailable",
			Hint:    "Try another mode with --mode, or run 'spawn doctor'",
			Cause:   err,
			Code:    ExitGeneral,
		}
	default:
		return Wrap(ExitGeneral, "Launch failed", err)
	}
}

// TargetExecFailed reports that the program could not replace the child.
func TargetExecFailed(program string, errno syscall.Errno, cause error) *CLIError {
	e := &CLIError{
		Message: fmt.Sprintf("Cannot run %s", program),
		Cause:   cause,
		Code:    ExitCannotExecute,
	}

	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR:
		e.Code = ExitNotFound
		e.Hint = "Check the program name and PATH, or the --dir value"
	case syscall.EACCES, syscall.EPERM:
		e.Hint = "Check that the file is executable and its directories are searchable"
	case syscall.ENOEXEC:
		e.Hint = "The file is not a recognized executable format"
	}

	return e
}

// InvalidMode returns an error for an unknown --mode value.
func InvalidMode(value string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid launch mode: %s", value),
		Hint:    fmt.Sprintf("Supported modes: %s", strings.Join(launch.ModeNames(), ", ")),
		Code:    ExitUsage,
	}
}

// InvalidEnv returns an error for a malformed --env entry.
func InvalidEnv(entry string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid environment entry: %q", entry),
		Hint:    "Use --env KEY=VALUE",
		Code:    ExitUsage,
	}
}

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your spawn config directory or run 'spawn doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// HelperMissing returns an error when the helper binary cannot be used.
func HelperMissing(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Spawn helper not usable: %s", path),
		Hint:    "Install spawnhelper next to spawn, or set launch.helper_path with 'spawn config set'",
		Cause:   cause,
		Code:    ExitHelper,
	}
}
