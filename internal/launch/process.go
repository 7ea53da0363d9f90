//go:build unix

package launch

import (
	"errors"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a successfully launched child. Stdin, Stdout and Stderr are
// the parent ends of requested pipes and nil for streams that were not
// piped.
type Process struct {
	Pid  int
	Mode Mode

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	mu     sync.Mutex
	done   bool
	status syscall.WaitStatus
}

func newProcess(pid int, mode Mode, ps *pipeSet) *Process {
	p := &Process{Pid: pid, Mode: mode}
	p.Stdin, p.Stdout, p.Stderr = ps.release()

	return p
}

// Wait blocks until the process exits and returns its status. Later calls
// return the same status.
func (p *Process) Wait() (syscall.WaitStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return p.status, nil
	}

	var ws unix.WaitStatus

	for {
		_, err := unix.Wait4(p.Pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return 0, &os.SyscallError{Syscall: "wait4", Err: err}
		}

		break
	}

	p.done = true
	p.status = syscall.WaitStatus(ws)

	return p.status, nil
}

// Close closes whichever pipe ends the caller still holds.
func (p *Process) Close() error {
	var errs []error

	for _, f := range []*os.File{p.Stdin, p.Stdout, p.Stderr} {
		if f == nil {
			continue
		}

		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
