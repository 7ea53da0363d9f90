//go:build unix

package launch

import (
	"encoding/binary"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/musher-dev/spawn/internal/handoff"
)

const wordLen = 4

// readWord reads up to one status word from the fail pipe, retrying on
// EINTR. n is 0 on end-of-file and 4 for a complete word; anything in
// between means the writer died mid-word.
func readWord(fd int) (n int, word int32, err error) {
	var buf [wordLen]byte

	for n < len(buf) {
		m, err := unix.Read(fd, buf[n:])
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return n, 0, err
		}

		if m == 0 {
			break
		}

		n += m
	}

	if n == wordLen {
		word = int32(binary.NativeEndian.Uint32(buf[:]))
	}

	return n, word, nil
}

// awaitOutcome interprets the fail pipe once every write end in the
// launcher is closed. With alive set (helper mode) it first expects the
// helper's acknowledgement. It returns nil when the target's exec
// succeeded. On failure the process has been reaped.
func awaitOutcome(fd, pid int, alive bool) *Error {
	if alive {
		n, word, err := readWord(fd)

		switch {
		case err != nil:
			killAndReap(pid)
			return &Error{Kind: ReadFailure, Op: "read", Errno: errnoOf(err), Pid: pid, Detail: "Read failed"}
		case n == 0:
			return helperExitError(pid, reap(pid))
		case n == wordLen && word == handoff.AliveWord:
		case n == wordLen:
			killAndReap(pid)
			return &Error{
				Kind:   ProtocolError,
				Op:     "handshake",
				Pid:    pid,
				Code:   int(word),
				Detail: fmt.Sprintf("Bad code from spawn helper (Failed to exec spawn helper): pid: %d, code: %d", pid, word),
			}
		default:
			killAndReap(pid)
			return &Error{Kind: ReadFailure, Op: "read", Pid: pid, Detail: fmt.Sprintf("Read failed: short status word (%d bytes)", n)}
		}
	}

	n, word, err := readWord(fd)

	switch {
	case err != nil:
		killAndReap(pid)
		return &Error{Kind: ReadFailure, Op: "read", Errno: errnoOf(err), Pid: pid, Detail: "Read failed"}
	case n == 0:
		return nil
	case n == wordLen:
		reap(pid)
		return execError(pid, syscall.Errno(word))
	default:
		killAndReap(pid)
		return &Error{Kind: ReadFailure, Op: "read", Pid: pid, Detail: fmt.Sprintf("Read failed: short status word (%d bytes)", n)}
	}
}

// reap waits for pid, retrying on EINTR.
func reap(pid int) syscall.WaitStatus {
	var ws unix.WaitStatus

	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err != unix.EINTR {
			return syscall.WaitStatus(ws)
		}
	}
}

func killAndReap(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
	reap(pid)
}
