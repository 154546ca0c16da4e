package pcsc

import (
	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
)

// Transaction holds a card exclusively. The service keeps other
// transactional users of the card waiting until the transaction ends.
//
// The card operations are forwarded, so a Transaction can be used in place
// of its Card. After End or Close they return ErrInvalidHandle.
type Transaction struct {
	card *Card
}

func (t *Transaction) use(op string) (*Card, error) {
	if t.card == nil {
		return nil, ErrInvalidHandle
	}
	if err := t.card.use(op); err != nil {
		return nil, err
	}
	return t.card, nil
}

// End ends the transaction. On failure the returned *EndError still holds
// the transaction so the call can be retried.
func (t *Transaction) End(disposition Disposition) error {
	card, err := t.use("End")
	if err != nil {
		return err
	}
	if code := card.ctx.svc.EndTransaction(card.handle, uint32(disposition)); code != native.Success {
		return &EndError{Transaction: t, Err: errorFromRaw(code)}
	}
	t.detach()
	return nil
}

// Close ends the transaction with LeaveCard if it is still open, ignoring
// errors.
func (t *Transaction) Close() {
	card, err := t.use("Close")
	if err != nil {
		return
	}
	if code := card.ctx.svc.EndTransaction(card.handle, uint32(LeaveCard)); code != native.Success {
		logging.Debug(logging.CatTransaction, "Automatic transaction end failed", map[string]any{
			"error": errorFromRaw(code).Error(),
		})
	}
	t.detach()
}

func (t *Transaction) detach() {
	t.card.tx = nil
	t.card = nil
}

// ActiveProtocol returns the card's active protocol, or ProtocolUndefined
// once the transaction has ended.
func (t *Transaction) ActiveProtocol() Protocol {
	if t.card == nil {
		return ProtocolUndefined
	}
	return t.card.ActiveProtocol()
}

// Status forwards to Card.Status.
func (t *Transaction) Status() (Status, Protocol, error) {
	card, err := t.use("Status")
	if err != nil {
		return 0, 0, err
	}
	return card.Status()
}

// GetAttribute forwards to Card.GetAttribute.
func (t *Transaction) GetAttribute(attr Attribute, buf []byte) ([]byte, error) {
	card, err := t.use("GetAttribute")
	if err != nil {
		return nil, err
	}
	return card.GetAttribute(attr, buf)
}

// SetAttribute forwards to Card.SetAttribute.
func (t *Transaction) SetAttribute(attr Attribute, data []byte) error {
	card, err := t.use("SetAttribute")
	if err != nil {
		return err
	}
	return card.SetAttribute(attr, data)
}

// Transmit forwards to Card.Transmit.
func (t *Transaction) Transmit(send, recv []byte) ([]byte, error) {
	card, err := t.use("Transmit")
	if err != nil {
		return nil, err
	}
	return card.Transmit(send, recv)
}
