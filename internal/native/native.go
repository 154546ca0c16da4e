// Package native is the boundary to the platform smart card service
// (pcsc-lite, WinSCard or the macOS PCSC framework).
//
// Everything here speaks in raw handles, raw flag words and raw status
// codes. Callers are expected to go through internal/pcsc, which owns the
// handle lifetimes and maps codes to errors.
package native

// ContextHandle identifies an established service context.
type ContextHandle uintptr

// CardHandle identifies a connection to a card.
type CardHandle uintptr

// ReaderState is the backend-neutral reader-state record. It carries the
// same fields as SCARD_READERSTATE, but Reader is a Go byte slice, so a
// backend translates each record to its own layout and copies the results
// back. GetStatusChange updates EventState and the ATR in place.
type ReaderState struct {
	Reader       []byte // NUL-terminated reader name
	UserData     uintptr
	CurrentState uint32
	EventState   uint32
	AtrLen       uint32
	Atr          [AtrBufferSize]byte
}

// ReaderName returns the reader name without its terminator.
func (rs *ReaderState) ReaderName() string {
	for i, b := range rs.Reader {
		if b == 0 {
			return string(rs.Reader[:i])
		}
	}
	return string(rs.Reader)
}

// IORequest is a protocol control information header (SCARD_IO_REQUEST).
type IORequest struct {
	Protocol  uint32
	PciLength uint32
}

// Static protocol control information for the three transmit protocols.
// They are shared by every transmit call and never modified.
var (
	T0Pci  = IORequest{Protocol: ProtocolT0, PciLength: 8}
	T1Pci  = IORequest{Protocol: ProtocolT1, PciLength: 8}
	RawPci = IORequest{Protocol: ProtocolRaw, PciLength: 8}
)

// Service is the set of native entry points. Every call returns a raw
// status code; Success means the outputs are valid.
//
// Variable-length outputs follow the caller-sized buffer protocol: the call
// writes at most len(buf) bytes and reports the number of bytes produced.
// When buf is too small the call returns EInsufficientBuffer together with
// the required length and leaves buf in an unspecified state.
type Service interface {
	EstablishContext(scope uint32) (ContextHandle, Code)
	ReleaseContext(ctx ContextHandle) Code
	IsValidContext(ctx ContextHandle) Code
	Cancel(ctx ContextHandle) Code

	// ListReaders fills buf with NUL-terminated reader names followed by
	// one more NUL.
	ListReaders(ctx ContextHandle, buf []byte) (uint32, Code)
	GetStatusChange(ctx ContextHandle, timeout uint32, states []ReaderState) Code

	Connect(ctx ContextHandle, reader string, shareMode, preferredProtocols uint32) (CardHandle, uint32, Code)
	Reconnect(card CardHandle, shareMode, preferredProtocols, initialization uint32) (uint32, Code)
	Disconnect(card CardHandle, disposition uint32) Code

	BeginTransaction(card CardHandle) Code
	EndTransaction(card CardHandle, disposition uint32) Code

	Status(card CardHandle) (state uint32, protocol uint32, code Code)
	GetAttrib(card CardHandle, attr uint32, buf []byte) (uint32, Code)
	SetAttrib(card CardHandle, attr uint32, data []byte) Code
	Transmit(card CardHandle, sendPci *IORequest, send, recv []byte) (uint32, Code)
}
