//go:build !windows

package native

// ProtocolRaw selects the raw (memory card) protocol.
const ProtocolRaw uint32 = 0x0004

// AtrBufferSize is the capacity of the ATR field in a reader state record.
const AtrBufferSize = 33
