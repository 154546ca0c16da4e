package native

// Code is a raw status code returned by the smart card service.
type Code int64

// Success is the only code that does not describe a failure.
const Success Code = 0x00000000

// Hard failures. The block is contiguous from FInternalError to
// EServerTooBusy.
const (
	FInternalError          Code = 0x80100001
	ECancelled              Code = 0x80100002
	EInvalidHandle          Code = 0x80100003
	EInvalidParameter       Code = 0x80100004
	EInvalidTarget          Code = 0x80100005
	ENoMemory               Code = 0x80100006
	FWaitedTooLong          Code = 0x80100007
	EInsufficientBuffer     Code = 0x80100008
	EUnknownReader          Code = 0x80100009
	ETimeout                Code = 0x8010000A
	ESharingViolation       Code = 0x8010000B
	ENoSmartcard            Code = 0x8010000C
	EUnknownCard            Code = 0x8010000D
	ECantDispose            Code = 0x8010000E
	EProtoMismatch          Code = 0x8010000F
	ENotReady               Code = 0x80100010
	EInvalidValue           Code = 0x80100011
	ESystemCancelled        Code = 0x80100012
	FCommError              Code = 0x80100013
	FUnknownError           Code = 0x80100014
	EInvalidAtr             Code = 0x80100015
	ENotTransacted          Code = 0x80100016
	EReaderUnavailable      Code = 0x80100017
	PShutdown               Code = 0x80100018
	EPciTooSmall            Code = 0x80100019
	EReaderUnsupported      Code = 0x8010001A
	EDuplicateReader        Code = 0x8010001B
	ECardUnsupported        Code = 0x8010001C
	ENoService              Code = 0x8010001D
	EServiceStopped         Code = 0x8010001E
	EUnexpected             Code = 0x8010001F
	EIccInstallation        Code = 0x80100020
	EIccCreateorder         Code = 0x80100021
	EUnsupportedFeature     Code = 0x80100022
	EDirNotFound            Code = 0x80100023
	EFileNotFound           Code = 0x80100024
	ENoDir                  Code = 0x80100025
	ENoFile                 Code = 0x80100026
	ENoAccess               Code = 0x80100027
	EWriteTooMany           Code = 0x80100028
	EBadSeek                Code = 0x80100029
	EInvalidChv             Code = 0x8010002A
	EUnknownResMng          Code = 0x8010002B
	ENoSuchCertificate      Code = 0x8010002C
	ECertificateUnavailable Code = 0x8010002D
	ENoReadersAvailable     Code = 0x8010002E
	ECommDataLost           Code = 0x8010002F
	ENoKeyContainer         Code = 0x80100030
	EServerTooBusy          Code = 0x80100031
)

// Warnings. The block is contiguous from WUnsupportedCard to
// WCacheItemTooBig.
const (
	WUnsupportedCard      Code = 0x80100065
	WUnresponsiveCard     Code = 0x80100066
	WUnpoweredCard        Code = 0x80100067
	WResetCard            Code = 0x80100068
	WRemovedCard          Code = 0x80100069
	WSecurityViolation    Code = 0x8010006A
	WWrongChv             Code = 0x8010006B
	WChvBlocked           Code = 0x8010006C
	WEOF                  Code = 0x8010006D
	WCancelledByUser      Code = 0x8010006E
	WCardNotAuthenticated Code = 0x8010006F
	WCacheItemNotFound    Code = 0x80100070
	WCacheItemStale       Code = 0x80100071
	WCacheItemTooBig      Code = 0x80100072
)

// Context scopes.
const (
	ScopeUser     uint32 = 0x0000
	ScopeTerminal uint32 = 0x0001
	ScopeSystem   uint32 = 0x0002
	ScopeGlobal   uint32 = 0x0003
)

// Share modes.
const (
	ShareExclusive uint32 = 0x0001
	ShareShared    uint32 = 0x0002
	ShareDirect    uint32 = 0x0003
)

// Protocols. ProtocolRaw is platform specific.
const (
	ProtocolUndefined uint32 = 0x0000
	ProtocolT0        uint32 = 0x0001
	ProtocolT1        uint32 = 0x0002
	ProtocolAny              = ProtocolT0 | ProtocolT1
)

// Dispositions.
const (
	LeaveCard   uint32 = 0x0000
	ResetCard   uint32 = 0x0001
	UnpowerCard uint32 = 0x0002
	EjectCard   uint32 = 0x0003
)

// Reader state flags, as reported by GetStatusChange.
const (
	StateUnaware     uint32 = 0x0000
	StateIgnore      uint32 = 0x0001
	StateChanged     uint32 = 0x0002
	StateUnknown     uint32 = 0x0004
	StateUnavailable uint32 = 0x0008
	StateEmpty       uint32 = 0x0010
	StatePresent     uint32 = 0x0020
	StateAtrMatch    uint32 = 0x0040
	StateExclusive   uint32 = 0x0080
	StateInUse       uint32 = 0x0100
	StateMute        uint32 = 0x0200
	StateUnpowered   uint32 = 0x0400
)

// Card status flags, as reported by Status.
const (
	StatusUnknown    uint32 = 0x0001
	StatusAbsent     uint32 = 0x0002
	StatusPresent    uint32 = 0x0004
	StatusSwallowed  uint32 = 0x0008
	StatusPowered    uint32 = 0x0010
	StatusNegotiable uint32 = 0x0020
	StatusSpecific   uint32 = 0x0040
)

// Infinite is the timeout sentinel for an unbounded wait.
const Infinite uint32 = 0xFFFFFFFF

// PnPNotification is the pseudo reader name that reports reader
// insertions and removals.
const PnPNotification = `\\?PnP?\Notification`

// Buffer limits.
const (
	MaxAtrSize            = 33
	MaxBufferSize         = 264
	MaxBufferSizeExtended = 4 + 3 + (1 << 16) + 3 + 2
)
