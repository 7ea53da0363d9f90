//go:build linux && (amd64 || arm64 || riscv64 || loong64 || ppc64le)

package launch

import (
	"os"
	"runtime"
	"slices"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// childExitStatus is what a DirectFork child exits with when exec fails,
// matching the shell's "command not found" convention.
const childExitStatus = 127

// fallbackFdLimit caps the close-on-exec sweep used when close_range is
// unavailable.
const fallbackFdLimit = 1 << 16

// forkSpec is everything the DirectFork child needs, prepared by the parent
// so the child never allocates or stores a pointer. A pointer store in the
// child can hit the GC write barrier.
type forkSpec struct {
	fds      [3]int
	failFd   int
	nextFd   int
	maxFd    int
	redirect bool
	dir      *byte
	cands    []*byte
	argv     []*byte
	envv     []*byte
	shell    *byte
	// shellArgv[i] is "/bin/sh cands[i] args...", used when cands[i]
	// fails with ENOEXEC.
	shellArgv [][]*byte
}

func (l *Launcher) newForkSpec(d *Descriptor, ps *pipeSet) (*forkSpec, error) {
	s := &forkSpec{
		fds:      ps.childFds(d),
		failFd:   ps.fail[1],
		redirect: d.redirect,
		maxFd:    fallbackFdLimit,
	}

	s.nextFd = max(s.fds[0], s.fds[1], s.fds[2], s.failFd, len(s.fds)-1) + 1

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err == nil && rlim.Cur < fallbackFdLimit {
		s.maxFd = int(rlim.Cur)
	}

	var err error

	if d.dir != "" {
		if s.dir, err = syscall.BytePtrFromString(d.dir); err != nil {
			return nil, err
		}
	}

	if s.cands, err = cStrings(l.path.Candidates(d.program)); err != nil {
		return nil, err
	}

	// Drop the terminator; the child iterates the candidates by index.
	s.cands = s.cands[:len(s.cands)-1]

	if s.argv, err = argvBlock(d.argv); err != nil {
		return nil, err
	}

	if s.shell, err = syscall.BytePtrFromString(shellPath); err != nil {
		return nil, err
	}

	s.shellArgv = make([][]*byte, len(s.cands))
	for i, c := range s.cands {
		v := slices.Clone(s.argv)
		v[0] = s.shell
		v[1] = c
		s.shellArgv[i] = v
	}

	env := d.env
	if env == nil {
		env = os.Environ()
	}

	if s.envv, err = cStrings(env); err != nil {
		return nil, err
	}

	return s, nil
}

func (l *Launcher) startDirectFork(d *Descriptor, ps *pipeSet) (int, error) {
	s, err := l.newForkSpec(d, ps)
	if err != nil {
		return 0, &Error{Kind: InvalidArgument, Op: "build", Detail: "cannot prepare child vectors", Err: err}
	}

	syscall.ForkLock.Lock()
	pid, errno := forkAndExecInChild(s)
	afterFork()
	syscall.ForkLock.Unlock()

	runtime.KeepAlive(s)

	if errno != 0 {
		return 0, &Error{Kind: LaunchMechanismFailure, Op: "fork", Errno: errno, Detail: "fork failed"}
	}

	return int(pid), nil
}

// forkAndExecInChild clones the launcher without sharing memory and, in the
// child, positions the std descriptors, changes directory, marks every
// other descriptor close-on-exec and runs the exec search. The child uses
// raw system calls only: it must not allocate, grow its stack or take
// runtime locks. In the parent it returns the child's pid.
//
//go:norace
//go:noinline
//go:nocheckptr
func forkAndExecInChild(s *forkSpec) (pid uintptr, errno syscall.Errno) {
	var (
		r1     uintptr
		err1   syscall.Errno
		sticky syscall.Errno
		fd     = s.fds
		fail   = s.failFd
		nextFd = s.nextFd
		i      int
	)

	beforeFork()

	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		return r1, err1
	}

	afterForkInChild()

	// Keep the fail pipe out of the way of the std descriptors.
	if fail < len(fd) {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fail), uintptr(nextFd), syscall.O_CLOEXEC)
		if err1 != 0 {
			childExit(fail, err1)
		}

		fail = nextFd
		nextFd++
	}

	// Pass 1: move any source below its target so pass 2 cannot clobber it.
	for i = 0; i < len(fd); i++ {
		if fd[i] >= i {
			continue
		}

		if nextFd == fail {
			nextFd++
		}

		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fd[i]), uintptr(nextFd), syscall.O_CLOEXEC)
		if err1 != 0 {
			childExit(fail, err1)
		}

		fd[i] = nextFd
		nextFd++
	}

	// Pass 2: dup into place; dup3 leaves the copy inheritable.
	for i = 0; i < len(fd); i++ {
		if fd[i] == i {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(i), syscall.F_SETFD, 0)
		} else {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(fd[i]), uintptr(i), 0)
		}

		if err1 != 0 {
			childExit(fail, err1)
		}
	}

	if s.redirect {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, 1, 2, 0)
		if err1 != 0 {
			childExit(fail, err1)
		}
	}

	if s.dir != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(s.dir)), 0, 0)
		if err1 != 0 {
			childExit(fail, err1)
		}
	}

	_, _, err1 = syscall.RawSyscall(unix.SYS_CLOSE_RANGE, 3, ^uintptr(0), unix.CLOSE_RANGE_CLOEXEC)
	if err1 != 0 {
		for i = 3; i < s.maxFd; i++ {
			syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(i), syscall.F_SETFD, syscall.FD_CLOEXEC)
		}
	}

	for i = 0; i < len(s.cands); i++ {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_EXECVE,
			uintptr(unsafe.Pointer(s.cands[i])),
			uintptr(unsafe.Pointer(&s.argv[1])),
			uintptr(unsafe.Pointer(&s.envv[0])))

		if err1 == syscall.ENOEXEC {
			_, _, err1 = syscall.RawSyscall(syscall.SYS_EXECVE,
				uintptr(unsafe.Pointer(s.shell)),
				uintptr(unsafe.Pointer(&s.shellArgv[i][0])),
				uintptr(unsafe.Pointer(&s.envv[0])))
		}

		switch err1 {
		case syscall.EACCES:
			sticky = err1
		case syscall.ENOENT, syscall.ENOTDIR, syscall.ELOOP, syscall.ESTALE, syscall.ENODEV, syscall.ETIMEDOUT:
		default:
			childExit(fail, err1)
		}
	}

	if sticky != 0 {
		err1 = sticky
	}

	childExit(fail, err1)

	return 0, 0
}

// childExit reports errno on the fail pipe and exits. It runs in the
// DirectFork child.
//
//go:nosplit
//go:norace
func childExit(fail int, errno syscall.Errno) {
	status := uint32(errno)

	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(fail), uintptr(unsafe.Pointer(&status)), unsafe.Sizeof(status))

	for {
		syscall.RawSyscall(syscall.SYS_EXIT, childExitStatus, 0, 0)
	}
}
