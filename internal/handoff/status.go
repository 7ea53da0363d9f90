package handoff

import (
	"encoding/binary"
	"errors"
	"syscall"
)

// AliveWord is the first word a helper writes to the fail pipe once it has
// decoded its payload. Any other first word is an error code.
const AliveWord int32 = 0xFFFF

// StatusWord encodes v for the fail pipe. Unlike the payload, status words
// use the host byte order: both ends always run on the same machine.
func StatusWord(v int32) [4]byte {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], uint32(v))

	return b
}

// ErrnoFor maps a payload read failure to the code a helper reports
// instead of the alive word.
func ErrnoFor(err error) syscall.Errno {
	var errno syscall.Errno

	switch {
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, ErrBadMagic), errors.Is(err, ErrVersionMismatch):
		return syscall.EPROTO
	case errors.Is(err, ErrTruncated):
		return syscall.EIO
	default:
		return syscall.EINVAL
	}
}
