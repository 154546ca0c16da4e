package pcsc

import (
	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// Card is a connection to a card in a reader. It cannot outlive the
// Context it was connected through: once that Context is released every
// method returns ErrInvalidHandle.
type Card struct {
	ctx      *Context
	handle   native.CardHandle
	protocol Protocol
	tx       *Transaction
	closed   bool
}

func (c *Card) use(op string) error {
	c.ctx.owner.check(op)
	if c.closed || c.ctx.released {
		return ErrInvalidHandle
	}
	return nil
}

// ActiveProtocol returns the protocol negotiated at connect or the last
// reconnect.
func (c *Card) ActiveProtocol() Protocol {
	return c.protocol
}

// Transaction starts an exclusive transaction. Until it ends, the card
// cannot start another transaction, reconnect or disconnect.
func (c *Card) Transaction() (*Transaction, error) {
	if err := c.use("Transaction"); err != nil {
		return nil, err
	}
	if c.tx != nil {
		return nil, ErrCardBorrowed
	}
	if err := check(c.ctx.svc.BeginTransaction(c.handle)); err != nil {
		return nil, err
	}
	c.tx = &Transaction{card: c}
	return c.tx, nil
}

// Reconnect renegotiates the connection without disconnecting. The active
// protocol is updated to the newly negotiated one.
func (c *Card) Reconnect(mode ShareMode, protocols Protocols, initialization Disposition) error {
	if err := c.use("Reconnect"); err != nil {
		return err
	}
	if c.tx != nil {
		return ErrCardBorrowed
	}
	proto, code := c.ctx.svc.Reconnect(c.handle, uint32(mode), uint32(protocols), uint32(initialization))
	if err := check(code); err != nil {
		return err
	}
	c.protocol = protocolFromRaw(proto)
	return nil
}

// Disconnect disconnects from the card. On failure the returned
// *DisconnectError still holds the card so the call can be retried.
func (c *Card) Disconnect(disposition Disposition) error {
	if err := c.use("Disconnect"); err != nil {
		return err
	}
	if c.tx != nil {
		return ErrCardBorrowed
	}
	if code := c.ctx.svc.Disconnect(c.handle, uint32(disposition)); code != native.Success {
		return &DisconnectError{Card: c, Err: errorFromRaw(code)}
	}
	c.finish()
	return nil
}

// Close disconnects with ResetCard if the card is still connected,
// ignoring errors. An open transaction is ended first with LeaveCard.
func (c *Card) Close() {
	c.ctx.owner.check("Close")
	if c.closed || c.ctx.released {
		return
	}
	if c.tx != nil {
		c.tx.Close()
	}
	if code := c.ctx.svc.Disconnect(c.handle, uint32(ResetCard)); code != native.Success {
		logging.Debug(logging.CatCard, "Automatic disconnect failed", map[string]any{
			"error": errorFromRaw(code).Error(),
		})
	}
	c.finish()
}

func (c *Card) finish() {
	c.closed = true
	c.handle = 0
}

// Status returns the card status and the active protocol.
func (c *Card) Status() (Status, Protocol, error) {
	if err := c.use("Status"); err != nil {
		return 0, 0, err
	}
	state, proto, code := c.ctx.svc.Status(c.handle)
	if err := check(code); err != nil {
		return 0, 0, err
	}
	return Status(state) & statusMask, protocolFromRaw(proto), nil
}

// GetAttribute reads an attribute into buf and returns the filled part of
// buf. A buffer that is too small yields ErrInsufficientBuffer.
func (c *Card) GetAttribute(attr Attribute, buf []byte) ([]byte, error) {
	if err := c.use("GetAttribute"); err != nil {
		return nil, err
	}
	n, code := c.ctx.svc.GetAttrib(c.handle, uint32(attr), buf)
	if err := check(code); err != nil {
		return nil, err
	}
	if int(n) > len(buf) {
		return nil, ErrInsufficientBuffer
	}
	return buf[:n], nil
}

// SetAttribute writes an attribute.
func (c *Card) SetAttribute(attr Attribute, data []byte) error {
	if err := c.use("SetAttribute"); err != nil {
		return err
	}
	return check(c.ctx.svc.SetAttrib(c.handle, uint32(attr), data))
}

// Transmit sends an APDU and returns the response as the filled part of
// recv. A buffer that is too small yields ErrInsufficientBuffer.
func (c *Card) Transmit(send, recv []byte) ([]byte, error) {
	if err := c.use("Transmit"); err != nil {
		return nil, err
	}
	pci := protocolPci(c.protocol)
	if pci == nil {
		return nil, ErrProtoMismatch
	}
	n, code := c.ctx.svc.Transmit(c.handle, pci, send, recv)
	if err := check(code); err != nil {
		return nil, err
	}
	if int(n) > len(recv) {
		return nil, ErrInsufficientBuffer
	}
	return recv[:n], nil
}

// protocolPci selects the static send header for a protocol.
func protocolPci(p Protocol) *native.IORequest {
	switch p {
	case ProtocolT0:
		return &native.T0Pci
	case ProtocolT1:
		return &native.T1Pci
	case ProtocolRaw:
		return &native.RawPci
	}
	return nil
}
