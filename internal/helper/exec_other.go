//go:build unix && !linux

package helper

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func dupOnto(oldfd, newfd int) error {
	return unix.Dup2(oldfd, newfd)
}

func dupAbove(fd, lowest int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, lowest)
}

func setInheritable(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0)
	return err
}

func closeOnExecFrom(int) error {
	return syscall.ENOSYS
}
