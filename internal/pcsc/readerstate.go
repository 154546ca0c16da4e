package pcsc

import (
	"unsafe"

	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// ReaderState tracks one reader (or PnPNotification) across calls to
// Context.GetStatusChange. It has exactly the layout of the native record
// so a []ReaderState is passed to the service without copying.
type ReaderState struct {
	inner native.ReaderState
}

// NewReaderState returns a record for the named reader with the state the
// caller assumes it is in. The name is copied, so the record does not
// depend on the caller's string.
func NewReaderState(name string, current State) ReaderState {
	reader := make([]byte, len(name)+1)
	copy(reader, name)
	return ReaderState{
		inner: native.ReaderState{
			Reader:       reader,
			CurrentState: uint32(current),
			EventState:   uint32(StateUnaware),
		},
	}
}

// Name returns the reader name.
func (rs *ReaderState) Name() string {
	return rs.inner.ReaderName()
}

// CurrentState returns the state the next wait compares against.
func (rs *ReaderState) CurrentState() State {
	return State(rs.inner.CurrentState)
}

// SetCurrentState replaces the assumed state.
func (rs *ReaderState) SetCurrentState(s State) {
	rs.inner.CurrentState = uint32(s)
}

// EventState returns the last reported state, without the event count.
func (rs *ReaderState) EventState() State {
	return State(rs.inner.EventState) & stateMask
}

// EventCount returns the card event counter kept in the upper 16 bits of
// the reported state. It increases on every card insertion or removal, so
// a change between two waits reveals a removal and reinsertion even when
// the state bits are the same.
func (rs *ReaderState) EventCount() uint32 {
	return (rs.inner.EventState & 0xFFFF0000) >> 16
}

// SyncCurrentState copies the reported state, event count included, into
// the current state so the next wait reports only new transitions.
// Without the event count some platforms report PnPNotification as
// changed on every call.
func (rs *ReaderState) SyncCurrentState() {
	rs.inner.CurrentState = rs.inner.EventState
}

// Atr returns the ATR reported for the card in the reader. The slice
// aliases the record.
func (rs *ReaderState) Atr() []byte {
	n := int(rs.inner.AtrLen)
	if n > len(rs.inner.Atr) {
		n = len(rs.inner.Atr)
	}
	return rs.inner.Atr[:n]
}

// nativeStates reinterprets the records as the native array.
func nativeStates(states []ReaderState) []native.ReaderState {
	if len(states) == 0 {
		return nil
	}
	return unsafe.Slice((*native.ReaderState)(unsafe.Pointer(unsafe.SliceData(states))), len(states))
}
