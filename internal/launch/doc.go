// Package launch starts child processes and reports, synchronously, whether
// the target program replaced the launched process image.
//
// Three strategies are available. DirectFork duplicates the launcher with a
// raw clone and prepares the child with raw system calls. SpeculativeFork
// leaves process creation to the runtime's vfork-style ForkExec and does all
// preparation in the parent. HelperDelegated, the default, spawns the small
// spawnhelper binary and hands it a serialized request over a pipe.
//
// Every strategy reports the target's exec errno over a close-on-exec "fail"
// pipe: end-of-file on that pipe means exec succeeded.
package launch
