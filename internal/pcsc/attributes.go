package pcsc

// AttributeClass is the upper 16 bits of an Attribute.
type AttributeClass uint32

const (
	ClassVendorInfo     AttributeClass = 1
	ClassCommunications AttributeClass = 2
	ClassProtocol       AttributeClass = 3
	ClassPowerMgmt      AttributeClass = 4
	ClassSecurity       AttributeClass = 5
	ClassMechanical     AttributeClass = 6
	ClassVendorDefined  AttributeClass = 7
	ClassIfdProtocol    AttributeClass = 8
	ClassIccState       AttributeClass = 9
	ClassSystem         AttributeClass = 0x7fff
)

// Attribute identifies a card or reader attribute for GetAttribute and
// SetAttribute.
type Attribute uint32

// Class returns the attribute class.
func (a Attribute) Class() AttributeClass {
	return AttributeClass(uint32(a) >> 16)
}

const (
	AttrVendorName         = Attribute(ClassVendorInfo)<<16 | 0x0100
	AttrVendorIfdType      = Attribute(ClassVendorInfo)<<16 | 0x0101
	AttrVendorIfdVersion   = Attribute(ClassVendorInfo)<<16 | 0x0102
	AttrVendorIfdSerialNo  = Attribute(ClassVendorInfo)<<16 | 0x0103
	AttrChannelID          = Attribute(ClassCommunications)<<16 | 0x0110
	AttrAsyncProtocolTypes = Attribute(ClassProtocol)<<16 | 0x0120
	AttrDefaultClk         = Attribute(ClassProtocol)<<16 | 0x0121
	AttrMaxClk             = Attribute(ClassProtocol)<<16 | 0x0122
	AttrDefaultDataRate    = Attribute(ClassProtocol)<<16 | 0x0123
	AttrMaxDataRate        = Attribute(ClassProtocol)<<16 | 0x0124
	AttrMaxIfsd            = Attribute(ClassProtocol)<<16 | 0x0125
	AttrSyncProtocolTypes  = Attribute(ClassProtocol)<<16 | 0x0126
	AttrPowerMgmtSupport   = Attribute(ClassPowerMgmt)<<16 | 0x0131
	AttrUserToCardAuthDev  = Attribute(ClassSecurity)<<16 | 0x0140
	AttrUserAuthInputDev   = Attribute(ClassSecurity)<<16 | 0x0142
	AttrCharacteristics    = Attribute(ClassMechanical)<<16 | 0x0150

	AttrCurrentProtocolType = Attribute(ClassIfdProtocol)<<16 | 0x0201
	AttrCurrentClk          = Attribute(ClassIfdProtocol)<<16 | 0x0202
	AttrCurrentF            = Attribute(ClassIfdProtocol)<<16 | 0x0203
	AttrCurrentD            = Attribute(ClassIfdProtocol)<<16 | 0x0204
	AttrCurrentN            = Attribute(ClassIfdProtocol)<<16 | 0x0205
	AttrCurrentW            = Attribute(ClassIfdProtocol)<<16 | 0x0206
	AttrCurrentIfsc         = Attribute(ClassIfdProtocol)<<16 | 0x0207
	AttrCurrentIfsd         = Attribute(ClassIfdProtocol)<<16 | 0x0208
	AttrCurrentBwt          = Attribute(ClassIfdProtocol)<<16 | 0x0209
	AttrCurrentCwt          = Attribute(ClassIfdProtocol)<<16 | 0x020a
	AttrCurrentEbcEncoding  = Attribute(ClassIfdProtocol)<<16 | 0x020b
	AttrExtendedBwt         = Attribute(ClassIfdProtocol)<<16 | 0x020c

	AttrIccPresence        = Attribute(ClassIccState)<<16 | 0x0300
	AttrIccInterfaceStatus = Attribute(ClassIccState)<<16 | 0x0301
	AttrCurrentIoState     = Attribute(ClassIccState)<<16 | 0x0302
	AttrAtrString          = Attribute(ClassIccState)<<16 | 0x0303
	AttrIccTypePerAtr      = Attribute(ClassIccState)<<16 | 0x0304

	AttrEscReset       = Attribute(ClassVendorDefined)<<16 | 0xA000
	AttrEscCancel      = Attribute(ClassVendorDefined)<<16 | 0xA003
	AttrEscAuthRequest = Attribute(ClassVendorDefined)<<16 | 0xA005
	AttrMaxInput       = Attribute(ClassVendorDefined)<<16 | 0xA007

	AttrDeviceUnit           = Attribute(ClassSystem)<<16 | 0x0001
	AttrDeviceInUse          = Attribute(ClassSystem)<<16 | 0x0002
	AttrDeviceFriendlyName   = Attribute(ClassSystem)<<16 | 0x0003
	AttrDeviceSystemName     = Attribute(ClassSystem)<<16 | 0x0004
	AttrSuppressT1IfsRequest = Attribute(ClassSystem)<<16 | 0x0007
)
