package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/musher-dev/spawn/internal/buildinfo"
	"github.com/musher-dev/spawn/internal/handoff"
	"github.com/musher-dev/spawn/internal/pathvec"
)

const shellPath = pathvec.Interpreter

// Descriptor layout of a freshly spawned helper.
const (
	helperHandoffFd = 3
	helperFailFd    = 4
	helperStdFd     = 5
)

func (l *Launcher) start(d *Descriptor, ps *pipeSet) (int, error) {
	switch d.mode {
	case DirectFork:
		return l.startDirectFork(d, ps)
	case SpeculativeFork:
		return l.startSpeculativeFork(d, ps)
	case HelperDelegated:
		return l.startHelperDelegated(d, ps)
	default:
		return 0, invalidArgument("unknown mode %s", d.mode)
	}
}

// lookPath resolves file against the launcher's search vector the way the
// child-side search would, so SpeculativeFork can do it before the child
// exists. The child changes to dir before exec, so relative candidates are
// checked inside dir but returned unchanged. EACCES is remembered and
// reported if nothing else matches.
func (l *Launcher) lookPath(file, dir string) (string, syscall.Errno) {
	if strings.Contains(file, "/") {
		return file, 0
	}

	var sticky syscall.Errno

	for _, c := range l.path.Candidates(file) {
		var st unix.Stat_t

		checked := c
		if dir != "" && !filepath.IsAbs(c) {
			checked = filepath.Join(dir, c)
		}

		err := unix.Access(checked, unix.X_OK)
		if err == nil {
			err = unix.Stat(checked, &st)
		}

		if err == nil {
			if st.Mode&unix.S_IFMT == unix.S_IFREG {
				return c, 0
			}

			sticky = syscall.EACCES

			continue
		}

		errno := errnoOf(err)

		switch {
		case errno == syscall.EACCES:
			sticky = errno
		case pathvec.Skippable(errno):
		default:
			return "", errno
		}
	}

	if sticky != 0 {
		return "", sticky
	}

	return "", syscall.ENOENT
}

func (l *Launcher) startSpeculativeFork(d *Descriptor, ps *pipeSet) (int, error) {
	path, errno := l.lookPath(d.program, d.dir)
	if errno != 0 {
		return 0, execError(0, errno)
	}

	env := d.env
	if env == nil {
		env = os.Environ()
	}

	fds := ps.childFds(d)
	if d.redirect {
		fds[2] = fds[1]
	}

	attr := &syscall.ProcAttr{
		Dir:   d.dir,
		Env:   env,
		Files: []uintptr{uintptr(fds[0]), uintptr(fds[1]), uintptr(fds[2])},
	}

	pid, err := syscall.ForkExec(path, d.argv, attr)
	if err == syscall.ENOEXEC {
		argv := append([]string{shellPath, path}, d.argv[1:]...)
		pid, err = syscall.ForkExec(shellPath, argv, attr)
	}

	if err != nil {
		errno := errnoOf(err)

		switch errno {
		case syscall.EAGAIN, syscall.ENOMEM, syscall.ENOSYS:
			return 0, &Error{Kind: LaunchMechanismFailure, Op: "vfork", Errno: errno, Detail: "vfork failed"}
		default:
			return 0, execError(0, errno)
		}
	}

	return pid, nil
}

func (l *Launcher) startHelperDelegated(d *Descriptor, ps *pipeSet) (int, error) {
	flags := handoff.FlagSendAlive
	if d.redirect {
		flags |= handoff.FlagRedirectErrorStream
	}

	payload, err := handoff.Encode(&handoff.Payload{
		Header: handoff.Header{
			StdFds:    [3]int32{helperStdFd, helperStdFd + 1, helperStdFd + 2},
			HandoffFd: helperHandoffFd,
			FailFd:    helperFailFd,
			Mode:      uint32(d.mode),
			Flags:     flags,
		},
		Program: d.program,
		Argv:    d.argv,
		Env:     d.env,
		Dir:     d.dir,
		Path:    l.path,
	})
	if err != nil {
		return 0, &Error{Kind: InvalidArgument, Op: "encode", Detail: "cannot encode helper payload", Err: err}
	}

	fds := ps.childFds(d)
	files := []uintptr{
		inheritable(0), inheritable(1), inheritable(2),
		uintptr(ps.handoff[0]), uintptr(ps.fail[1]),
		uintptr(fds[0]), uintptr(fds[1]), uintptr(fds[2]),
	}

	argv := []string{
		l.helperPath,
		buildinfo.Version,
		fmt.Sprintf("%d:%d", helperHandoffFd, helperFailFd),
	}

	env := append(os.Environ(), l.helperEnv...)

	pid, err := syscall.ForkExec(l.helperPath, argv, &syscall.ProcAttr{Env: env, Files: files})
	if err != nil {
		return 0, &Error{Kind: LaunchMechanismFailure, Op: "spawn helper", Errno: errnoOf(err), Detail: "spawn helper failed"}
	}

	closeFd(&ps.handoff[0])

	// A helper that dies before reading makes this fail with EPIPE; the
	// fail pipe then tells the caller why.
	_ = writeFull(ps.handoff[1], payload)

	closeFd(&ps.handoff[1])

	return pid, nil
}

// inheritable passes fd through to the helper, or closes that slot when
// the launcher itself has it closed.
func inheritable(fd int) uintptr {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return ^uintptr(0)
	}

	return uintptr(fd)
}

func writeFull(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return err
		}

		b = b[n:]
	}

	return nil
}
