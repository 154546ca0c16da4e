package pcsc

import (
	"fmt"
	"runtime"
)

// owner confines a Context, and everything derived from it, to the OS
// thread that established it. The native service ties blocking calls to
// the calling thread, so the establishing goroutine is locked to its
// thread until the Context is released.
type owner struct {
	tid int64 // 0 when the platform cannot identify threads
}

func pinOwner() owner {
	runtime.LockOSThread()
	return owner{tid: currentThreadID()}
}

func (o owner) unpin() {
	runtime.UnlockOSThread()
}

func (o owner) check(op string) {
	if o.tid == 0 {
		return
	}
	if tid := currentThreadID(); tid != o.tid {
		panic(fmt.Sprintf("pcsc: %s called from thread %d, context belongs to thread %d", op, tid, o.tid))
	}
}
