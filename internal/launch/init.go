package launch

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/musher-dev/spawn/internal/pathvec"
)

var (
	initOnce   sync.Once
	initDone   atomic.Bool
	parentPath pathvec.Vector
)

// Init prepares process-wide launch state: it snapshots the PATH search
// vector and undoes any ignored SIGCHLD disposition, under which the kernel
// would reap children before wait4 could collect their status. It is safe
// to call more than once; only the first call does any work. New calls it.
func Init() {
	initOnce.Do(func() {
		parentPath = pathvec.Resolve(nil)
		restoreSIGCHLD()
		initDone.Store(true)
	})
}

// restoreSIGCHLD reinstalls the runtime's SIGCHLD handler if the signal was
// ignored. Registering a channel re-enables the handler; stopping it leaves
// the handler installed without disturbing other registrations.
func restoreSIGCHLD() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGCHLD)
	signal.Stop(c)
}

// Initialized reports whether Init has run.
func Initialized() bool {
	return initDone.Load()
}

// EffectivePath returns the search vector captured by Init. Later changes
// to PATH in this process do not affect it.
func EffectivePath() pathvec.Vector {
	Init()
	return parentPath
}
