//go:build unix && !linux

package launch

import "syscall"

func (l *Launcher) start(d *Descriptor, _ *pipeSet) (int, error) {
	return 0, &Error{
		Kind:   LaunchMechanismFailure,
		Op:     d.mode.String(),
		Errno:  syscall.ENOSYS,
		Detail: d.mode.String() + " mode is only supported on Linux",
	}
}
