// Package pcsc manages smart card service resources: contexts, card
// connections, transactions and reader state records.
//
// A Context and every Card and Transaction derived from it belong to the
// goroutine that called Establish. That goroutine is locked to its OS
// thread until the Context is released, and calls from any other thread
// panic. The only value that may cross goroutines is the Canceler.
//
// Resources are released explicitly with Release, Disconnect and End,
// which hand the resource back inside the returned error on failure, or
// with Close, which is meant for defer and discards errors.
package pcsc

import (
	"errors"
	"strings"
	"time"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// DefaultService is the service used by Establish.
var DefaultService native.Service = native.NewSCard()

// Context is an established session with the smart card service.
type Context struct {
	svc      native.Service
	handle   native.ContextHandle
	owner    owner
	released bool
}

// Establish opens a context on DefaultService.
func Establish(scope Scope) (*Context, error) {
	return EstablishWith(DefaultService, scope)
}

// EstablishWith opens a context on svc. The calling goroutine is locked to
// its OS thread until the context is released or closed.
func EstablishWith(svc native.Service, scope Scope) (*Context, error) {
	o := pinOwner()
	h, code := svc.EstablishContext(uint32(scope))
	if err := check(code); err != nil {
		o.unpin()
		return nil, err
	}
	logging.Debug(logging.CatContext, "Context established", map[string]any{
		"scope": scope.String(),
	})
	return &Context{svc: svc, handle: h, owner: o}, nil
}

func (c *Context) use(op string) error {
	c.owner.check(op)
	if c.released {
		return ErrInvalidHandle
	}
	return nil
}

// Release releases the context. On failure the returned *ReleaseError
// still holds the context so the release can be retried. After a
// successful release every method returns ErrInvalidHandle.
func (c *Context) Release() error {
	if err := c.use("Release"); err != nil {
		return err
	}
	if code := c.svc.ReleaseContext(c.handle); code != native.Success {
		return &ReleaseError{Context: c, Err: errorFromRaw(code)}
	}
	c.finish()
	return nil
}

// Close releases the context if it is still held, ignoring errors. Call
// Release instead when the outcome matters.
func (c *Context) Close() {
	c.owner.check("Close")
	if c.released {
		return
	}
	if code := c.svc.ReleaseContext(c.handle); code != native.Success {
		logging.Debug(logging.CatContext, "Automatic context release failed", map[string]any{
			"error": errorFromRaw(code).Error(),
		})
	}
	c.finish()
}

func (c *Context) finish() {
	c.released = true
	c.handle = 0
	c.owner.unpin()
}

// IsValid reports whether the service still considers the context valid.
func (c *Context) IsValid() error {
	if err := c.use("IsValid"); err != nil {
		return err
	}
	return check(c.svc.IsValidContext(c.handle))
}

// Canceler returns a Canceler that can interrupt GetStatusChange from
// another goroutine.
func (c *Context) Canceler() *Canceler {
	c.owner.check("Canceler")
	return &Canceler{svc: c.svc, handle: c.handle}
}

// ListReaders lists the connected readers into buf. The returned names are
// views into buf.
//
// A service report of "no readers available" is returned as an empty list
// rather than ErrNoReadersAvailable. A buffer that is too small yields
// ErrInsufficientBuffer; retry with a larger one.
func (c *Context) ListReaders(buf []byte) (ReaderNames, error) {
	if err := c.use("ListReaders"); err != nil {
		return ReaderNames{}, err
	}
	n, code := c.svc.ListReaders(c.handle, buf)
	if code == native.ENoReadersAvailable {
		return ReaderNames{buf: noReaders}, nil
	}
	if err := check(code); err != nil {
		return ReaderNames{}, err
	}
	if int(n) > len(buf) {
		return ReaderNames{}, ErrInsufficientBuffer
	}
	return ReaderNames{buf: buf[:n]}, nil
}

// ListReaderNames lists the connected readers, growing its own buffer on
// ErrInsufficientBuffer up to maxSize bytes. A maxSize below one byte
// cannot hold any list and yields ErrInsufficientBuffer.
func (c *Context) ListReaderNames(maxSize int) ([]string, error) {
	if err := c.use("ListReaderNames"); err != nil {
		return nil, err
	}
	if maxSize < 1 {
		return nil, ErrInsufficientBuffer
	}
	size := 256
	for {
		if size > maxSize {
			size = maxSize
		}
		names, err := c.ListReaders(make([]byte, size))
		if err == nil {
			return names.Strings(), nil
		}
		if !errors.Is(err, ErrInsufficientBuffer) || size >= maxSize {
			return nil, err
		}
		size *= 2
	}
}

// Connect connects to the card in the named reader. The negotiated
// protocol is recorded on the returned Card.
func (c *Context) Connect(reader string, mode ShareMode, protocols Protocols) (*Card, error) {
	if err := c.use("Connect"); err != nil {
		return nil, err
	}
	if strings.IndexByte(reader, 0) >= 0 {
		return nil, ErrInvalidParameter
	}
	h, proto, code := c.svc.Connect(c.handle, reader, uint32(mode), uint32(protocols))
	if err := check(code); err != nil {
		return nil, err
	}
	card := &Card{ctx: c, handle: h, protocol: protocolFromRaw(proto)}
	logging.Debug(logging.CatCard, "Card connected", map[string]any{
		"reader":   reader,
		"protocol": card.protocol.String(),
	})
	return card, nil
}

// GetStatusChange blocks until the state of one of the readers differs from
// its current state, or the timeout expires (ErrTimeout), or a Canceler
// fires (ErrCancelled). A negative timeout, such as Infinite, waits
// forever. The records are updated in place.
func (c *Context) GetStatusChange(timeout time.Duration, states []ReaderState) error {
	if err := c.use("GetStatusChange"); err != nil {
		return err
	}
	return check(c.svc.GetStatusChange(c.handle, timeoutMillis(timeout), nativeStates(states)))
}

// timeoutMillis converts a timeout to whole milliseconds, saturating at
// the native infinite sentinel.
func timeoutMillis(d time.Duration) uint32 {
	if d < 0 {
		return native.Infinite
	}
	ms := d.Milliseconds()
	if ms >= int64(native.Infinite) {
		return native.Infinite
	}
	return uint32(ms)
}
