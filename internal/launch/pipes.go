//go:build unix

package launch

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// pipeSet holds every descriptor one launch creates. Index 0 of each pair
// is the read end. A closed or unopened slot holds -1.
type pipeSet struct {
	in, out, err  [2]int
	handoff, fail [2]int
}

func newPipeSet() *pipeSet {
	return &pipeSet{
		in:      [2]int{-1, -1},
		out:     [2]int{-1, -1},
		err:     [2]int{-1, -1},
		handoff: [2]int{-1, -1},
		fail:    [2]int{-1, -1},
	}
}

// checkStdFds rejects caller-supplied std descriptors that are not open.
// Left to the strategies, a closed descriptor would surface as a different
// error kind in each mode.
func checkStdFds(d *Descriptor) *Error {
	for i, fd := range d.stdFds {
		if fd == PipeFd {
			continue
		}

		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			return &Error{
				Kind:   InvalidArgument,
				Op:     "build",
				Errno:  errnoOf(err),
				Detail: fmt.Sprintf("std fd %d (%d) is not open", i, fd),
			}
		}
	}

	return nil
}

// open creates the requested std pipes plus the handoff and fail pipes.
// On error the pipes opened so far stay in ps for the caller to close.
func (ps *pipeSet) open(d *Descriptor) error {
	for i, p := range []*[2]int{&ps.in, &ps.out, &ps.err} {
		if !d.wantsPipe(i) {
			continue
		}

		if err := openPipe(p); err != nil {
			return err
		}
	}

	if err := openPipe(&ps.handoff); err != nil {
		return err
	}

	return openPipe(&ps.fail)
}

// childFds is what the child must see as fds 0, 1 and 2.
func (ps *pipeSet) childFds(d *Descriptor) [3]int {
	fds := d.stdFds
	if d.wantsPipe(0) {
		fds[0] = ps.in[0]
	}

	if d.wantsPipe(1) {
		fds[1] = ps.out[1]
	}

	if d.wantsPipe(2) {
		fds[2] = ps.err[1]
	}

	return fds
}

// closeChildSide closes the parent's copies of the child ends and both
// control pipes. It runs on every exit path.
func (ps *pipeSet) closeChildSide() {
	closeFd(&ps.in[0])
	closeFd(&ps.out[1])
	closeFd(&ps.err[1])
	closeFd(&ps.handoff[0])
	closeFd(&ps.handoff[1])
	closeFd(&ps.fail[0])
	closeFd(&ps.fail[1])
}

// closeParentSide closes the ends that would have been handed to the
// caller. It runs only when the launch fails.
func (ps *pipeSet) closeParentSide() {
	closeFd(&ps.in[1])
	closeFd(&ps.out[0])
	closeFd(&ps.err[0])
}

// release transfers the parent ends to *os.File values owned by the caller.
func (ps *pipeSet) release() (stdin, stdout, stderr *os.File) {
	stdin = takeFile(&ps.in[1], "|0")
	stdout = takeFile(&ps.out[0], "|1")
	stderr = takeFile(&ps.err[0], "|2")

	return stdin, stdout, stderr
}

func takeFile(fd *int, name string) *os.File {
	if *fd < 0 {
		return nil
	}

	f := os.NewFile(uintptr(*fd), name)
	*fd = -1

	return f
}

// closeFd closes *fd once and marks the slot closed.
func closeFd(fd *int) {
	if *fd < 0 {
		return
	}

	_ = unix.Close(*fd)
	*fd = -1
}
