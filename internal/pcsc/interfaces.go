package pcsc

// Channel is the set of card operations shared by Card and Transaction.
type Channel interface {
	ActiveProtocol() Protocol
	Status() (Status, Protocol, error)
	GetAttribute(attr Attribute, buf []byte) ([]byte, error)
	SetAttribute(attr Attribute, data []byte) error
	Transmit(send, recv []byte) ([]byte, error)
}

var (
	_ Channel = (*Card)(nil)
	_ Channel = (*Transaction)(nil)
)
