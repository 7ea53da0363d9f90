//go:build linux && !(amd64 || arm64 || riscv64 || loong64 || ppc64le)

package launch

import "syscall"

func (l *Launcher) startDirectFork(*Descriptor, *pipeSet) (int, error) {
	return 0, &Error{Kind: LaunchMechanismFailure, Op: "fork", Errno: syscall.ENOSYS, Detail: "fork mode is not supported on this architecture"}
}
