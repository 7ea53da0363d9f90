//go:build unix

package helper

import (
	"os"
	"syscall"

	"github.com/musher-dev/spawn/internal/handoff"
	"github.com/musher-dev/spawn/internal/pathvec"
)

// execve replaces the process image; tests substitute it.
var execve = syscall.Exec

// execTarget prepares the process from p and execs the target. It returns
// only on failure.
func execTarget(p *handoff.Payload) syscall.Errno {
	if err := placeStdio(p.Header.StdFds); err != nil {
		return errnoOf(err)
	}

	if p.Header.RedirectErrorStream() {
		if err := dupOnto(1, 2); err != nil {
			return errnoOf(err)
		}
	}

	if p.Dir != "" {
		if err := os.Chdir(p.Dir); err != nil {
			return errnoOf(err)
		}
	}

	env := p.Env
	if env == nil {
		env = os.Environ()
	}

	if err := closeOnExecFrom(3); err != nil {
		return errnoOf(err)
	}

	return execSearch(p.Program, p.Argv, env, pathvec.Vector(p.Path))
}

// execSearch tries each candidate for program in turn. EACCES is sticky:
// it is reported if no later candidate could be executed.
func execSearch(program string, argv, env []string, path pathvec.Vector) syscall.Errno {
	var sticky syscall.Errno

	last := syscall.ENOENT

	for _, file := range path.Candidates(program) {
		errno := execWithShellFallback(file, argv, env)

		switch {
		case errno == syscall.EACCES:
			sticky = errno
		case pathvec.Skippable(errno):
		default:
			return errno
		}

		last = errno
	}

	if sticky != 0 {
		return sticky
	}

	return last
}

// execWithShellFallback runs file, retrying as an interpreter script when
// the kernel does not recognize its format.
func execWithShellFallback(file string, argv, env []string) syscall.Errno {
	err := execve(file, argv, env)
	if errnoOf(err) == syscall.ENOEXEC {
		shArgv := append([]string{pathvec.Interpreter, file}, argv[1:]...)
		err = execve(pathvec.Interpreter, shArgv, env)
	}

	return errnoOf(err)
}

// placeStdio makes fds[i] the process's descriptor i, inheritable across
// exec. Sources already in the 0..2 range are first moved out of the way
// so no dup clobbers a later source.
func placeStdio(fds [3]int32) error {
	var src [3]int

	for i, fd := range fds {
		src[i] = int(fd)
	}

	for i := range src {
		if src[i] < len(src) && src[i] != i {
			moved, err := dupAbove(src[i], 10)
			if err != nil {
				return err
			}

			src[i] = moved
		}
	}

	for i := range src {
		if src[i] == i {
			if err := setInheritable(i); err != nil {
				return err
			}

			continue
		}

		if err := dupOnto(src[i], i); err != nil {
			return err
		}
	}

	return nil
}
