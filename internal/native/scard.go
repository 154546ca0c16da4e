package native

import (
	"errors"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
)

// SCard implements Service on top of github.com/ebfe/scard.
//
// The library hands out *scard.Context and *scard.Card values; SCard keeps
// them in a handle table so callers only ever see opaque integers. A
// handle is removed from the table as soon as it is released, so stale
// handles are answered with EInvalidHandle instead of reaching the
// library.
type SCard struct {
	mu       sync.Mutex
	next     uintptr
	contexts map[ContextHandle]*scard.Context
	cards    map[CardHandle]*cardEntry
}

type cardEntry struct {
	card *scard.Card
	ctx  ContextHandle
}

// NewSCard returns a Service backed by the platform PC/SC library.
func NewSCard() *SCard {
	return &SCard{
		contexts: make(map[ContextHandle]*scard.Context),
		cards:    make(map[CardHandle]*cardEntry),
	}
}

// codeOf recovers the raw status code from a library error.
func codeOf(err error) Code {
	if err == nil {
		return Success
	}
	var se scard.Error
	if errors.As(err, &se) {
		return Code(se)
	}
	return FInternalError
}

func (s *SCard) context(h ContextHandle) (*scard.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[h]
	return c, ok
}

func (s *SCard) card(h CardHandle) (*scard.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cards[h]
	if !ok {
		return nil, false
	}
	return e.card, true
}

func (s *SCard) EstablishContext(scope uint32) (ContextHandle, Code) {
	if scope > ScopeGlobal {
		return 0, EInvalidValue
	}
	noteIgnoredScope(scope)
	c, err := scard.EstablishContext()
	if err != nil {
		return 0, codeOf(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := ContextHandle(s.next)
	s.contexts[h] = c
	return h, Success
}

// noteIgnoredScope records that scope has no effect. The library always
// establishes a system scope context.
func noteIgnoredScope(scope uint32) {
	if scope == ScopeUser {
		return
	}
	logging.Debug(logging.CatContext, "Requested context scope is not supported by the backend, using system scope", map[string]any{
		"scope": scope,
	})
}

func (s *SCard) ReleaseContext(h ContextHandle) Code {
	c, ok := s.context(h)
	if !ok {
		return EInvalidHandle
	}
	if err := c.Release(); err != nil {
		return codeOf(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, h)
	for ch, e := range s.cards {
		if e.ctx == h {
			delete(s.cards, ch)
		}
	}
	return Success
}

func (s *SCard) IsValidContext(h ContextHandle) Code {
	c, ok := s.context(h)
	if !ok {
		return EInvalidHandle
	}
	valid, err := c.IsValid()
	if err != nil {
		return codeOf(err)
	}
	if !valid {
		return EInvalidHandle
	}
	return Success
}

func (s *SCard) Cancel(h ContextHandle) Code {
	c, ok := s.context(h)
	if !ok {
		return EInvalidHandle
	}
	return codeOf(c.Cancel())
}

func (s *SCard) ListReaders(h ContextHandle, buf []byte) (uint32, Code) {
	c, ok := s.context(h)
	if !ok {
		return 0, EInvalidHandle
	}
	names, err := c.ListReaders()
	if err != nil {
		return 0, codeOf(err)
	}
	return EncodeMultiString(names, buf)
}

// EncodeMultiString writes names as consecutive NUL-terminated strings
// followed by a terminating NUL. Nothing is written when buf is too small.
func EncodeMultiString(names []string, buf []byte) (uint32, Code) {
	need := 1
	for _, n := range names {
		need += len(n) + 1
	}
	if need > len(buf) {
		return uint32(need), EInsufficientBuffer
	}
	pos := 0
	for _, n := range names {
		pos += copy(buf[pos:], n)
		buf[pos] = 0
		pos++
	}
	buf[pos] = 0
	return uint32(need), Success
}

func (s *SCard) GetStatusChange(h ContextHandle, timeout uint32, states []ReaderState) Code {
	c, ok := s.context(h)
	if !ok {
		return EInvalidHandle
	}

	rs := make([]scard.ReaderState, len(states))
	for i := range states {
		rs[i] = scard.ReaderState{
			Reader:       states[i].ReaderName(),
			CurrentState: scard.StateFlag(states[i].CurrentState),
		}
	}

	wait := time.Duration(timeout) * time.Millisecond
	if timeout == Infinite {
		wait = -1
	}
	if err := c.GetStatusChange(rs, wait); err != nil {
		return codeOf(err)
	}

	for i := range states {
		states[i].EventState = uint32(rs[i].EventState)
		states[i].AtrLen = uint32(copy(states[i].Atr[:], rs[i].Atr))
	}
	return Success
}

func (s *SCard) Connect(h ContextHandle, reader string, shareMode, preferredProtocols uint32) (CardHandle, uint32, Code) {
	c, ok := s.context(h)
	if !ok {
		return 0, 0, EInvalidHandle
	}
	card, err := c.Connect(reader, scard.ShareMode(shareMode), scard.Protocol(preferredProtocols))
	if err != nil {
		return 0, 0, codeOf(err)
	}

	s.mu.Lock()
	s.next++
	ch := CardHandle(s.next)
	s.cards[ch] = &cardEntry{card: card, ctx: h}
	s.mu.Unlock()

	return ch, activeProtocol(card), Success
}

// activeProtocol asks the card for the negotiated protocol. Direct
// connections to an empty reader have none and report ProtocolUndefined.
func activeProtocol(card *scard.Card) uint32 {
	st, err := card.Status()
	if err != nil {
		return ProtocolUndefined
	}
	return uint32(st.ActiveProtocol)
}

func (s *SCard) Reconnect(h CardHandle, shareMode, preferredProtocols, initialization uint32) (uint32, Code) {
	card, ok := s.card(h)
	if !ok {
		return 0, EInvalidHandle
	}
	err := card.Reconnect(scard.ShareMode(shareMode), scard.Protocol(preferredProtocols), scard.Disposition(initialization))
	if err != nil {
		return 0, codeOf(err)
	}
	return activeProtocol(card), Success
}

func (s *SCard) Disconnect(h CardHandle, disposition uint32) Code {
	card, ok := s.card(h)
	if !ok {
		return EInvalidHandle
	}
	if err := card.Disconnect(scard.Disposition(disposition)); err != nil {
		return codeOf(err)
	}
	s.mu.Lock()
	delete(s.cards, h)
	s.mu.Unlock()
	return Success
}

func (s *SCard) BeginTransaction(h CardHandle) Code {
	card, ok := s.card(h)
	if !ok {
		return EInvalidHandle
	}
	return codeOf(card.BeginTransaction())
}

func (s *SCard) EndTransaction(h CardHandle, disposition uint32) Code {
	card, ok := s.card(h)
	if !ok {
		return EInvalidHandle
	}
	return codeOf(card.EndTransaction(scard.Disposition(disposition)))
}

func (s *SCard) Status(h CardHandle) (uint32, uint32, Code) {
	card, ok := s.card(h)
	if !ok {
		return 0, 0, EInvalidHandle
	}
	st, err := card.Status()
	if err != nil {
		return 0, 0, codeOf(err)
	}
	return uint32(st.State), uint32(st.ActiveProtocol), Success
}

func (s *SCard) GetAttrib(h CardHandle, attr uint32, buf []byte) (uint32, Code) {
	card, ok := s.card(h)
	if !ok {
		return 0, EInvalidHandle
	}
	data, err := card.GetAttrib(scard.Attrib(attr))
	if err != nil {
		return 0, codeOf(err)
	}
	return fill(buf, data)
}

func (s *SCard) SetAttrib(h CardHandle, attr uint32, data []byte) Code {
	card, ok := s.card(h)
	if !ok {
		return EInvalidHandle
	}
	return codeOf(card.SetAttrib(scard.Attrib(attr), data))
}

// Transmit sends an APDU. The library derives the protocol header from the
// protocol it negotiated for the card, which is the same protocol sendPci
// was selected from; sendPci is only checked for presence.
func (s *SCard) Transmit(h CardHandle, sendPci *IORequest, send, recv []byte) (uint32, Code) {
	if sendPci == nil {
		return 0, EInvalidParameter
	}
	card, ok := s.card(h)
	if !ok {
		return 0, EInvalidHandle
	}
	rsp, err := card.Transmit(send)
	if err != nil {
		return 0, codeOf(err)
	}
	return fill(recv, rsp)
}

// fill copies src into the caller buffer, refusing partial copies.
func fill(buf, src []byte) (uint32, Code) {
	if len(src) > len(buf) {
		return uint32(len(src)), EInsufficientBuffer
	}
	return uint32(copy(buf, src)), Success
}
