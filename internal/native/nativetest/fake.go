// Package nativetest provides an in-memory native.Service for tests.
package nativetest

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// Fake is an in-memory smart card service. Readers, attributes and APDU
// responses are configured through its fields and setters; failures are
// injected per operation with FailNext.
type Fake struct {
	mu       sync.Mutex
	next     uintptr
	contexts map[native.ContextHandle]bool
	cards    map[native.CardHandle]*fakeCard
	locks    map[string]native.CardHandle // reader -> card holding a transaction
	fail     map[string][]native.Code
	calls    map[string]int
	readers  []string
	cancel   chan struct{}

	// Protocol is the protocol negotiated by Connect and Reconnect.
	Protocol uint32
	// CardState is reported by Status.
	CardState uint32
	// Attributes holds the values served by GetAttrib and stored by SetAttrib.
	Attributes map[uint32][]byte
	// Responses maps a hex encoded APDU to its response. Unknown APDUs
	// answer 90 00.
	Responses map[string][]byte
	// StatusChange, when set, answers GetStatusChange instead of waiting
	// for a Cancel or the timeout.
	StatusChange func(states []native.ReaderState) native.Code
	// LastPci is the header passed to the most recent Transmit.
	LastPci *native.IORequest
}

type fakeCard struct {
	ctx    native.ContextHandle
	reader string
}

// New returns a Fake with the given readers connected, negotiating T1.
func New(readers ...string) *Fake {
	return &Fake{
		contexts:   make(map[native.ContextHandle]bool),
		cards:      make(map[native.CardHandle]*fakeCard),
		locks:      make(map[string]native.CardHandle),
		fail:       make(map[string][]native.Code),
		calls:      make(map[string]int),
		readers:    readers,
		cancel:     make(chan struct{}),
		Protocol:   native.ProtocolT1,
		CardState:  native.StatusPresent | native.StatusPowered | native.StatusSpecific,
		Attributes: make(map[uint32][]byte),
		Responses:  make(map[string][]byte),
	}
}

// SetReaders replaces the connected readers.
func (f *Fake) SetReaders(readers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readers = readers
}

// FailNext makes the next calls of op return codes, one per call.
func (f *Fake) FailNext(op string, codes ...native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = append(f.fail[op], codes...)
}

// Calls returns how many times op was called.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// OpenContexts returns the number of established, unreleased contexts.
func (f *Fake) OpenContexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contexts)
}

// OpenCards returns the number of connected cards.
func (f *Fake) OpenCards() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cards)
}

// enter records a call and pops an injected failure. Callers hold f.mu.
func (f *Fake) enter(op string) native.Code {
	f.calls[op]++
	if q := f.fail[op]; len(q) > 0 {
		f.fail[op] = q[1:]
		return q[0]
	}
	return native.Success
}

func (f *Fake) card(h native.CardHandle) (*fakeCard, native.Code) {
	c, ok := f.cards[h]
	if !ok || !f.contexts[c.ctx] {
		return nil, native.EInvalidHandle
	}
	return c, native.Success
}

func (f *Fake) EstablishContext(scope uint32) (native.ContextHandle, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("EstablishContext"); code != native.Success {
		return 0, code
	}
	if scope > native.ScopeGlobal {
		return 0, native.EInvalidValue
	}
	f.next++
	h := native.ContextHandle(f.next)
	f.contexts[h] = true
	return h, native.Success
}

func (f *Fake) ReleaseContext(h native.ContextHandle) native.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("ReleaseContext"); code != native.Success {
		return code
	}
	if !f.contexts[h] {
		return native.EInvalidHandle
	}
	delete(f.contexts, h)
	for ch, c := range f.cards {
		if c.ctx == h {
			delete(f.cards, ch)
			if f.locks[c.reader] == ch {
				delete(f.locks, c.reader)
			}
		}
	}
	return native.Success
}

func (f *Fake) IsValidContext(h native.ContextHandle) native.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("IsValidContext"); code != native.Success {
		return code
	}
	if !f.contexts[h] {
		return native.EInvalidHandle
	}
	return native.Success
}

// Cancel interrupts a GetStatusChange that is currently waiting. With no
// waiter it does nothing.
func (f *Fake) Cancel(h native.ContextHandle) native.Code {
	f.mu.Lock()
	code := f.enter("Cancel")
	valid := f.contexts[h]
	ch := f.cancel
	f.mu.Unlock()

	if code != native.Success {
		return code
	}
	if !valid {
		return native.EInvalidHandle
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return native.Success
}

func (f *Fake) ListReaders(h native.ContextHandle, buf []byte) (uint32, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("ListReaders"); code != native.Success {
		return 0, code
	}
	if !f.contexts[h] {
		return 0, native.EInvalidHandle
	}
	if len(f.readers) == 0 {
		return 0, native.ENoReadersAvailable
	}
	return native.EncodeMultiString(f.readers, buf)
}

func (f *Fake) GetStatusChange(h native.ContextHandle, timeout uint32, states []native.ReaderState) native.Code {
	f.mu.Lock()
	code := f.enter("GetStatusChange")
	valid := f.contexts[h]
	script := f.StatusChange
	ch := f.cancel
	f.mu.Unlock()

	if code != native.Success {
		return code
	}
	if !valid {
		return native.EInvalidHandle
	}
	if script != nil {
		return script(states)
	}

	var expired <-chan time.Time
	if timeout != native.Infinite {
		timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-ch:
		return native.ECancelled
	case <-expired:
		return native.ETimeout
	}
}

func (f *Fake) Connect(h native.ContextHandle, reader string, shareMode, preferredProtocols uint32) (native.CardHandle, uint32, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("Connect"); code != native.Success {
		return 0, 0, code
	}
	if !f.contexts[h] {
		return 0, 0, native.EInvalidHandle
	}
	if !f.hasReader(reader) {
		return 0, 0, native.EUnknownReader
	}
	proto := f.Protocol
	if shareMode != native.ShareDirect && preferredProtocols&proto == 0 {
		return 0, 0, native.EProtoMismatch
	}
	f.next++
	ch := native.CardHandle(f.next)
	f.cards[ch] = &fakeCard{ctx: h, reader: reader}
	return ch, proto, native.Success
}

func (f *Fake) hasReader(name string) bool {
	for _, r := range f.readers {
		if r == name {
			return true
		}
	}
	return false
}

func (f *Fake) Reconnect(h native.CardHandle, shareMode, preferredProtocols, initialization uint32) (uint32, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("Reconnect"); code != native.Success {
		return 0, code
	}
	if _, code := f.card(h); code != native.Success {
		return 0, code
	}
	if shareMode != native.ShareDirect && preferredProtocols&f.Protocol == 0 {
		return 0, native.EProtoMismatch
	}
	return f.Protocol, native.Success
}

func (f *Fake) Disconnect(h native.CardHandle, disposition uint32) native.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("Disconnect"); code != native.Success {
		return code
	}
	c, code := f.card(h)
	if code != native.Success {
		return code
	}
	if f.locks[c.reader] == h {
		delete(f.locks, c.reader)
	}
	delete(f.cards, h)
	return native.Success
}

func (f *Fake) BeginTransaction(h native.CardHandle) native.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("BeginTransaction"); code != native.Success {
		return code
	}
	c, code := f.card(h)
	if code != native.Success {
		return code
	}
	if holder, ok := f.locks[c.reader]; ok && holder != h {
		return native.ESharingViolation
	}
	f.locks[c.reader] = h
	return native.Success
}

func (f *Fake) EndTransaction(h native.CardHandle, disposition uint32) native.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("EndTransaction"); code != native.Success {
		return code
	}
	c, code := f.card(h)
	if code != native.Success {
		return code
	}
	if f.locks[c.reader] != h {
		return native.ENotTransacted
	}
	delete(f.locks, c.reader)
	return native.Success
}

// InTransaction reports whether a transaction is open on the reader.
func (f *Fake) InTransaction(reader string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.locks[reader]
	return ok
}

func (f *Fake) Status(h native.CardHandle) (uint32, uint32, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("Status"); code != native.Success {
		return 0, 0, code
	}
	if _, code := f.card(h); code != native.Success {
		return 0, 0, code
	}
	return f.CardState, f.Protocol, native.Success
}

func (f *Fake) GetAttrib(h native.CardHandle, attr uint32, buf []byte) (uint32, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("GetAttrib"); code != native.Success {
		return 0, code
	}
	if _, code := f.card(h); code != native.Success {
		return 0, code
	}
	data, ok := f.Attributes[attr]
	if !ok {
		return 0, native.EUnsupportedFeature
	}
	return copyOut(buf, data)
}

func (f *Fake) SetAttrib(h native.CardHandle, attr uint32, data []byte) native.Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("SetAttrib"); code != native.Success {
		return code
	}
	if _, code := f.card(h); code != native.Success {
		return code
	}
	f.Attributes[attr] = append([]byte(nil), data...)
	return native.Success
}

func (f *Fake) Transmit(h native.CardHandle, sendPci *native.IORequest, send, recv []byte) (uint32, native.Code) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code := f.enter("Transmit"); code != native.Success {
		return 0, code
	}
	if _, code := f.card(h); code != native.Success {
		return 0, code
	}
	f.LastPci = sendPci
	rsp, ok := f.Responses[hex.EncodeToString(send)]
	if !ok {
		rsp = []byte{0x90, 0x00}
	}
	return copyOut(recv, rsp)
}

func copyOut(buf, src []byte) (uint32, native.Code) {
	if len(src) > len(buf) {
		return uint32(len(src)), native.EInsufficientBuffer
	}
	return uint32(copy(buf, src)), native.Success
}
