package helper

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

func dupOnto(oldfd, newfd int) error {
	return unix.Dup3(oldfd, newfd, 0)
}

func dupAbove(fd, lowest int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, lowest)
}

func setInheritable(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0)
	return err
}

// closeOnExecFrom marks every descriptor >= first close-on-exec, falling
// back to walking /proc/self/fd on kernels without close_range.
func closeOnExecFrom(first int) error {
	if err := unix.CloseRange(uint(first), ^uint(0), unix.CLOSE_RANGE_CLOEXEC); err == nil {
		return nil
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return err
	}

	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd < first {
			continue
		}

		// The directory's own descriptor is already gone; ignore EBADF.
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	}

	return nil
}
