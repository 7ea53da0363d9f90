//go:build unix && !linux

package launch

import "syscall"

// openPipe holds ForkLock so no concurrent fork inherits the pipe before it
// is marked close-on-exec.
func openPipe(p *[2]int) error {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	if err := syscall.Pipe(p[:]); err != nil {
		return err
	}

	syscall.CloseOnExec(p[0])
	syscall.CloseOnExec(p[1])

	return nil
}
