package launch

import _ "unsafe" // for go:linkname

// The runtime's fork hooks, as used by syscall.forkExec: beforeFork blocks
// signals and stack growth, afterFork undoes that in the parent, and
// afterForkInChild resets signal handling in the child.

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()
