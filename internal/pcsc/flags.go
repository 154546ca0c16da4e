package pcsc

import (
	"fmt"
	"strings"
	"time"

	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// Scope selects the visibility of a context.
type Scope uint32

const (
	ScopeUser     = Scope(native.ScopeUser)
	ScopeTerminal = Scope(native.ScopeTerminal)
	ScopeSystem   = Scope(native.ScopeSystem)
	ScopeGlobal   = Scope(native.ScopeGlobal)
)

func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeTerminal:
		return "terminal"
	case ScopeSystem:
		return "system"
	case ScopeGlobal:
		return "global"
	default:
		return fmt.Sprintf("scope(%d)", uint32(s))
	}
}

// ParseScope parses the names produced by Scope.String.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "user":
		return ScopeUser, nil
	case "terminal":
		return ScopeTerminal, nil
	case "system":
		return ScopeSystem, nil
	case "global":
		return ScopeGlobal, nil
	}
	return 0, fmt.Errorf("unknown scope %q", s)
}

// ShareMode controls how a reader connection is shared.
type ShareMode uint32

const (
	ShareExclusive = ShareMode(native.ShareExclusive)
	ShareShared    = ShareMode(native.ShareShared)
	ShareDirect    = ShareMode(native.ShareDirect)
)

// Protocol is a negotiated card communication protocol.
type Protocol uint32

const (
	// ProtocolUndefined is recorded for direct connections that did not
	// negotiate a protocol.
	ProtocolUndefined = Protocol(native.ProtocolUndefined)
	ProtocolT0        = Protocol(native.ProtocolT0)
	ProtocolT1        = Protocol(native.ProtocolT1)
	ProtocolRaw       = Protocol(native.ProtocolRaw)
)

// protocolFromRaw converts the protocol reported by the service. Anything
// other than the values this package offers for negotiation is a broken
// service contract.
func protocolFromRaw(raw uint32) Protocol {
	switch p := Protocol(raw); p {
	case ProtocolUndefined, ProtocolT0, ProtocolT1, ProtocolRaw:
		return p
	}
	panic(fmt.Sprintf("pcsc: impossible protocol: %#x", raw))
}

func (p Protocol) String() string {
	switch p {
	case ProtocolUndefined:
		return "undefined"
	case ProtocolT0:
		return "T0"
	case ProtocolT1:
		return "T1"
	case ProtocolRaw:
		return "RAW"
	default:
		return fmt.Sprintf("protocol(%#x)", uint32(p))
	}
}

// Protocols is a mask of acceptable protocols.
type Protocols uint32

const (
	ProtocolsUndefined = Protocols(native.ProtocolUndefined)
	ProtocolsT0        = Protocols(native.ProtocolT0)
	ProtocolsT1        = Protocols(native.ProtocolT1)
	ProtocolsRaw       = Protocols(native.ProtocolRaw)
	ProtocolsAny       = Protocols(native.ProtocolAny)
)

func (p Protocols) String() string {
	return flagString(uint32(p), []flagName{
		{uint32(ProtocolsT0), "T0"},
		{uint32(ProtocolsT1), "T1"},
		{uint32(ProtocolsRaw), "RAW"},
	}, "undefined")
}

// Disposition is what happens to the card on disconnect, reconnect or at
// the end of a transaction.
type Disposition uint32

const (
	LeaveCard   = Disposition(native.LeaveCard)
	ResetCard   = Disposition(native.ResetCard)
	UnpowerCard = Disposition(native.UnpowerCard)
	EjectCard   = Disposition(native.EjectCard)
)

func (d Disposition) String() string {
	switch d {
	case LeaveCard:
		return "leave"
	case ResetCard:
		return "reset"
	case UnpowerCard:
		return "unpower"
	case EjectCard:
		return "eject"
	default:
		return fmt.Sprintf("disposition(%d)", uint32(d))
	}
}

// State is a reader state mask.
type State uint32

const (
	StateUnaware     = State(native.StateUnaware)
	StateIgnore      = State(native.StateIgnore)
	StateChanged     = State(native.StateChanged)
	StateUnknown     = State(native.StateUnknown)
	StateUnavailable = State(native.StateUnavailable)
	StateEmpty       = State(native.StateEmpty)
	StatePresent     = State(native.StatePresent)
	StateAtrMatch    = State(native.StateAtrMatch)
	StateExclusive   = State(native.StateExclusive)
	StateInUse       = State(native.StateInUse)
	StateMute        = State(native.StateMute)
	StateUnpowered   = State(native.StateUnpowered)

	stateMask = StateIgnore | StateChanged | StateUnknown | StateUnavailable |
		StateEmpty | StatePresent | StateAtrMatch | StateExclusive |
		StateInUse | StateMute | StateUnpowered
)

// Has reports whether every bit of flag is set.
func (s State) Has(flag State) bool {
	return s&flag == flag
}

func (s State) String() string {
	return flagString(uint32(s), []flagName{
		{uint32(StateIgnore), "ignore"},
		{uint32(StateChanged), "changed"},
		{uint32(StateUnknown), "unknown"},
		{uint32(StateUnavailable), "unavailable"},
		{uint32(StateEmpty), "empty"},
		{uint32(StatePresent), "present"},
		{uint32(StateAtrMatch), "atrmatch"},
		{uint32(StateExclusive), "exclusive"},
		{uint32(StateInUse), "inuse"},
		{uint32(StateMute), "mute"},
		{uint32(StateUnpowered), "unpowered"},
	}, "unaware")
}

// Status is a card status mask.
type Status uint32

const (
	StatusUnknown    = Status(native.StatusUnknown)
	StatusAbsent     = Status(native.StatusAbsent)
	StatusPresent    = Status(native.StatusPresent)
	StatusSwallowed  = Status(native.StatusSwallowed)
	StatusPowered    = Status(native.StatusPowered)
	StatusNegotiable = Status(native.StatusNegotiable)
	StatusSpecific   = Status(native.StatusSpecific)

	statusMask = StatusUnknown | StatusAbsent | StatusPresent | StatusSwallowed |
		StatusPowered | StatusNegotiable | StatusSpecific
)

// Has reports whether every bit of flag is set.
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

func (s Status) String() string {
	return flagString(uint32(s), []flagName{
		{uint32(StatusUnknown), "unknown"},
		{uint32(StatusAbsent), "absent"},
		{uint32(StatusPresent), "present"},
		{uint32(StatusSwallowed), "swallowed"},
		{uint32(StatusPowered), "powered"},
		{uint32(StatusNegotiable), "negotiable"},
		{uint32(StatusSpecific), "specific"},
	}, "none")
}

type flagName struct {
	bit  uint32
	name string
}

func flagString(v uint32, names []flagName, zero string) string {
	if v == 0 {
		return zero
	}
	var parts []string
	for _, f := range names {
		if v&f.bit != 0 {
			parts = append(parts, f.name)
			v &^= f.bit
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("%#x", v))
	}
	return strings.Join(parts, "|")
}

// Buffer sizes callers use to size their buffers.
const (
	MaxAtrSize            = native.MaxAtrSize
	MaxBufferSize         = native.MaxBufferSize
	MaxBufferSizeExtended = native.MaxBufferSizeExtended
)

// PnPNotification is the pseudo reader name for reader insertion and
// removal events. Pass it to NewReaderState to watch for new readers.
const PnPNotification = native.PnPNotification

// Infinite makes GetStatusChange wait without a timeout.
const Infinite time.Duration = -1
