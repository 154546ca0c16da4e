package pcsc

import "github.com/SimplyPrint/pcsc-agent/internal/native"

// Canceler interrupts a blocking GetStatusChange on the Context it was
// obtained from. It is safe to use from any goroutine and may outlive the
// Context; once the Context is released Cancel returns ErrInvalidHandle.
type Canceler struct {
	svc    native.Service
	handle native.ContextHandle
}

// Cancel makes an outstanding GetStatusChange return ErrCancelled. With no
// wait outstanding it has no effect.
func (c *Canceler) Cancel() error {
	return check(c.svc.Cancel(c.handle))
}
