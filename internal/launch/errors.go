package launch

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies a launch failure.
type Kind int

const (
	KindUnknown Kind = iota
	// InvalidArgument is a malformed request; nothing was started.
	InvalidArgument
	// ResourceExhaustion means pipes or buffers could not be allocated.
	ResourceExhaustion
	// LaunchMechanismFailure means process creation itself failed.
	LaunchMechanismFailure
	// HelperExecFailure means the helper died before acknowledging.
	HelperExecFailure
	// ProtocolError means the helper answered with something other than
	// the alive word.
	ProtocolError
	// TargetExecFailure means the target program could not be executed;
	// Errno is the child's exec error.
	TargetExecFailure
	// ReadFailure means the fail pipe could not be read.
	ReadFailure
)

var kindNames = [...]string{
	KindUnknown:            "unknown",
	InvalidArgument:        "invalid_argument",
	ResourceExhaustion:     "resource_exhaustion",
	LaunchMechanismFailure: "launch_mechanism_failure",
	HelperExecFailure:      "helper_exec_failure",
	ProtocolError:          "protocol_error",
	TargetExecFailure:      "target_exec_failure",
	ReadFailure:            "read_failure",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return kindNames[k]
}

// Termination describes how a helper that never acknowledged went away.
type Termination int

const (
	TerminationNone Termination = iota
	TerminationExited
	TerminationSignaled
	TerminationOther
)

// HelperHint is remediation guidance shown with helper-related failures.
const HelperHint = `Possible reasons:
  - spawnhelper and the launcher come from different builds
  - spawnhelper ran into an unexpected internal error
  - spawnhelper was terminated by another process
Possible solutions:
  - Reinstall spawn so both binaries match, then retry
  - Run 'spawn doctor' to check the helper installation
  - Re-run with --mode fork to bypass the helper while diagnosing`

// Error is returned by Launcher.Launch for every failure.
type Error struct {
	Kind Kind
	// Op names the step that failed ("pipe", "fork", "exec", ...).
	Op string
	// Errno is the OS error, zero when none applies.
	Errno syscall.Errno
	// Pid is the created process, zero if none was created. It has
	// already been reaped when the error is returned.
	Pid    int
	Detail string

	// Termination and Code describe a dead helper: the exit code, the
	// signal number, or the raw wait status.
	Termination Termination
	Code        int

	// Err carries a non-errno cause, such as a validation error.
	Err error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Op + " failed"
	}

	switch {
	case e.Errno != 0:
		return fmt.Sprintf("%s, error: %d (%s)", msg, int(e.Errno), e.Errno.Error())
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap exposes the errno so errors.Is(err, syscall.ENOENT) works.
func (e *Error) Unwrap() error {
	if e.Errno != 0 {
		return e.Errno
	}

	return e.Err
}

// Hint returns remediation text for helper failures, empty otherwise.
func (e *Error) Hint() string {
	switch e.Kind {
	case HelperExecFailure, ProtocolError:
		return HelperHint
	default:
		return ""
	}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}

	return KindUnknown
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Op: "build", Detail: fmt.Sprintf(format, args...)}
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return syscall.EIO
}

func sysError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Errno: errnoOf(err), Detail: op + " failed"}
}

// execError builds the TargetExecFailure reported for errno read from the
// fail pipe or returned by the runtime's ForkExec.
func execError(pid int, errno syscall.Errno) *Error {
	return &Error{Kind: TargetExecFailure, Op: "exec", Errno: errno, Pid: pid, Detail: "Exec failed"}
}

// helperExitError describes a helper that exited before sending the alive
// word.
func helperExitError(pid int, ws syscall.WaitStatus) *Error {
	e := &Error{Kind: HelperExecFailure, Op: "spawn helper", Pid: pid}

	switch {
	case ws.Exited():
		e.Termination, e.Code = TerminationExited, ws.ExitStatus()
		e.Detail = fmt.Sprintf("Failed to exec spawn helper: pid: %d, exit code: %d", pid, e.Code)
	case ws.Signaled():
		e.Termination, e.Code = TerminationSignaled, int(ws.Signal())
		e.Detail = fmt.Sprintf("Failed to exec spawn helper: pid: %d, signal: %d", pid, e.Code)
	default:
		e.Termination, e.Code = TerminationOther, int(ws)
		e.Detail = fmt.Sprintf("Failed to exec spawn helper: pid: %d, status: 0x%08x", pid, uint32(ws))
	}

	return e
}
