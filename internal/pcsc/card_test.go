package pcsc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/SimplyPrint/pcsc-agent/internal/native"
	"github.com/SimplyPrint/pcsc-agent/internal/native/nativetest"
)

func connect(t *testing.T, ctx *Context, reader string) *Card {
	t.Helper()
	card, err := ctx.Connect(reader, ShareShared, ProtocolsT0|ProtocolsT1)
	if err != nil {
		t.Fatalf("Connect(%q) = %v", reader, err)
	}
	return card
}

func TestCard_SelectApplet(t *testing.T) {
	f := nativetest.New("Reader A")
	f.Responses["00a40400"] = []byte{0x90, 0x00}
	ctx := establish(t, f)
	defer ctx.Close()

	card := connect(t, ctx, "Reader A")
	defer card.Close()

	if card.ActiveProtocol() != ProtocolT1 {
		t.Errorf("ActiveProtocol() = %s, want T1", card.ActiveProtocol())
	}

	rsp, err := card.Transmit([]byte{0x00, 0xA4, 0x04, 0x00}, make([]byte, 2))
	if err != nil {
		t.Fatalf("Transmit() = %v", err)
	}
	if !bytes.Equal(rsp, []byte{0x90, 0x00}) {
		t.Errorf("response = % X, want 90 00", rsp)
	}
	if f.LastPci != &native.T1Pci {
		t.Error("T1 card did not use the T1 send header")
	}
}

func TestCard_TransmitHeaders(t *testing.T) {
	tests := []struct {
		name     string
		protocol uint32
		mask     Protocols
		want     *native.IORequest
	}{
		{"T0", native.ProtocolT0, ProtocolsT0 | ProtocolsT1, &native.T0Pci},
		{"T1", native.ProtocolT1, ProtocolsT0 | ProtocolsT1, &native.T1Pci},
		{"RAW", native.ProtocolRaw, ProtocolsRaw, &native.RawPci},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := nativetest.New("Reader A")
			f.Protocol = tt.protocol
			ctx := establish(t, f)
			defer ctx.Close()

			card, err := ctx.Connect("Reader A", ShareShared, tt.mask)
			if err != nil {
				t.Fatalf("Connect() = %v", err)
			}
			defer card.Close()

			if _, err := card.Transmit([]byte{0x00, 0xB0, 0x00, 0x00}, make([]byte, MaxBufferSize)); err != nil {
				t.Fatalf("Transmit() = %v", err)
			}
			if f.LastPci != tt.want {
				t.Errorf("send header %+v, want %+v", f.LastPci, tt.want)
			}
		})
	}
}

func TestCard_TransmitShortBuffer(t *testing.T) {
	f := nativetest.New("Reader A")
	f.Responses["00b00000"] = []byte{0x01, 0x02, 0x03, 0x90, 0x00}
	ctx := establish(t, f)
	defer ctx.Close()

	card := connect(t, ctx, "Reader A")
	defer card.Close()

	if _, err := card.Transmit([]byte{0x00, 0xB0, 0x00, 0x00}, make([]byte, 2)); !errors.Is(err, ErrInsufficientBuffer) {
		t.Errorf("Transmit() = %v, want ErrInsufficientBuffer", err)
	}
}

func TestCard_DirectConnectionWithoutProtocol(t *testing.T) {
	f := nativetest.New("Reader A")
	f.Protocol = native.ProtocolUndefined
	ctx := establish(t, f)
	defer ctx.Close()

	card, err := ctx.Connect("Reader A", ShareDirect, ProtocolsUndefined)
	if err != nil {
		t.Fatalf("direct Connect() = %v", err)
	}
	defer card.Close()

	if card.ActiveProtocol() != ProtocolUndefined {
		t.Errorf("ActiveProtocol() = %s, want undefined", card.ActiveProtocol())
	}
	if _, err := card.Transmit([]byte{0x00}, make([]byte, 2)); !errors.Is(err, ErrProtoMismatch) {
		t.Errorf("Transmit() = %v, want ErrProtoMismatch", err)
	}
	if f.Calls("Transmit") != 0 {
		t.Error("transmit without a protocol reached the service")
	}
}

func TestCard_ImpossibleProtocolPanics(t *testing.T) {
	f := nativetest.New("Reader A")
	f.Protocol = 0x8
	ctx := establish(t, f)
	defer ctx.Close()

	defer func() {
		if recover() == nil {
			t.Error("Connect with an impossible protocol did not panic")
		}
	}()
	_, _ = ctx.Connect("Reader A", ShareDirect, ProtocolsUndefined)
}

func TestCard_StatusAndAttributes(t *testing.T) {
	f := nativetest.New("Reader A")
	atr := []byte{0x3B, 0x8F, 0x80, 0x01}
	f.Attributes[uint32(AttrAtrString)] = atr
	ctx := establish(t, f)
	defer ctx.Close()

	card := connect(t, ctx, "Reader A")
	defer card.Close()

	status, proto, err := card.Status()
	if err != nil {
		t.Fatalf("Status() = %v", err)
	}
	if !status.Has(StatusPresent | StatusPowered) {
		t.Errorf("status = %s, want present|powered", status)
	}
	if proto != ProtocolT1 {
		t.Errorf("protocol = %s, want T1", proto)
	}

	got, err := card.GetAttribute(AttrAtrString, make([]byte, MaxAtrSize))
	if err != nil {
		t.Fatalf("GetAttribute() = %v", err)
	}
	if !bytes.Equal(got, atr) {
		t.Errorf("ATR = % X, want % X", got, atr)
	}
	if _, err := card.GetAttribute(AttrAtrString, make([]byte, 2)); !errors.Is(err, ErrInsufficientBuffer) {
		t.Errorf("GetAttribute() with short buffer = %v, want ErrInsufficientBuffer", err)
	}
	if _, err := card.GetAttribute(AttrVendorName, make([]byte, 32)); !errors.Is(err, ErrUnsupportedFeature) {
		t.Errorf("GetAttribute() of missing attribute = %v, want ErrUnsupportedFeature", err)
	}

	if err := card.SetAttribute(AttrVendorName, []byte("ACME")); err != nil {
		t.Fatalf("SetAttribute() = %v", err)
	}
	if got, _ := card.GetAttribute(AttrVendorName, make([]byte, 32)); string(got) != "ACME" {
		t.Errorf("vendor name = %q, want ACME", got)
	}
}

func TestCard_Reconnect(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	card := connect(t, ctx, "Reader A")
	defer card.Close()

	f.Protocol = native.ProtocolT0
	if err := card.Reconnect(ShareShared, ProtocolsT0|ProtocolsT1, ResetCard); err != nil {
		t.Fatalf("Reconnect() = %v", err)
	}
	if card.ActiveProtocol() != ProtocolT0 {
		t.Errorf("ActiveProtocol() after reconnect = %s, want T0", card.ActiveProtocol())
	}

	f.FailNext("Reconnect", native.WRemovedCard)
	if err := card.Reconnect(ShareShared, ProtocolsT1, LeaveCard); err == nil {
		t.Error("Reconnect() should report the injected failure")
	}
	if card.ActiveProtocol() != ProtocolT0 {
		t.Error("failed reconnect changed the active protocol")
	}
}

func TestCard_DisconnectFailureKeepsCard(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	card := connect(t, ctx, "Reader A")

	f.FailNext("Disconnect", native.WRemovedCard)
	err := card.Disconnect(UnpowerCard)

	var derr *DisconnectError
	if !errors.As(err, &derr) {
		t.Fatalf("Disconnect() = %v, want *DisconnectError", err)
	}
	if derr.Card != card {
		t.Fatal("DisconnectError does not carry the card")
	}
	if _, _, err := derr.Card.Status(); err != nil {
		t.Errorf("Status() after failed disconnect = %v", err)
	}
	if err := derr.Card.Disconnect(LeaveCard); err != nil {
		t.Fatalf("retried Disconnect() = %v", err)
	}
	if f.OpenCards() != 0 {
		t.Errorf("%d cards still connected", f.OpenCards())
	}

	if _, err := card.Transmit([]byte{0x00}, make([]byte, 2)); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Transmit() after disconnect = %v, want ErrInvalidHandle", err)
	}
	if err := card.Disconnect(LeaveCard); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("second Disconnect() = %v, want ErrInvalidHandle", err)
	}
	card.Close()
	if got := f.Calls("Disconnect"); got != 2 {
		t.Errorf("Disconnect called %d times, want 2", got)
	}
}

func TestCard_CloseResets(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	card := connect(t, ctx, "Reader A")
	f.FailNext("Disconnect", native.ECommDataLost)
	card.Close()

	if _, _, err := card.Status(); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Status() after Close = %v, want ErrInvalidHandle", err)
	}
	card.Close()
	if got := f.Calls("Disconnect"); got != 1 {
		t.Errorf("Disconnect called %d times, want 1", got)
	}
}

func TestCard_AfterContextRelease(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)

	card := connect(t, ctx, "Reader A")
	if err := ctx.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}

	if _, err := card.Transmit([]byte{0x00}, make([]byte, 2)); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Transmit() = %v, want ErrInvalidHandle", err)
	}
	if _, err := card.Transaction(); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Transaction() = %v, want ErrInvalidHandle", err)
	}
	card.Close()
	if f.Calls("Transmit") != 0 || f.Calls("Disconnect") != 0 {
		t.Error("card used its handle after the context was released")
	}
}
