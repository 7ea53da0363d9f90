package launch

import "sync"

// resetForTest re-arms Init so a test can observe a fresh snapshot.
func resetForTest() {
	initOnce = sync.Once{}
	initDone.Store(false)
	parentPath = nil
}
