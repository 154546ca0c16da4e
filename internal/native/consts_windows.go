//go:build windows

package native

// ProtocolRaw selects the raw (memory card) protocol.
const ProtocolRaw uint32 = 0x00010000

// AtrBufferSize is the capacity of the ATR field in a reader state record.
const AtrBufferSize = 36
