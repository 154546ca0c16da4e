package native

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/ebfe/scard"

	"github.com/SimplyPrint/pcsc-agent/internal/logging"
)

func TestEncodeMultiString(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		expected []byte
	}{
		{"no readers", nil, []byte{0}},
		{"one reader", []string{"Reader A"}, []byte("Reader A\x00\x00")},
		{"two readers", []string{"ACS ACR122U PICC Interface", "Reader B"},
			[]byte("ACS ACR122U PICC Interface\x00Reader B\x00\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 128)
			n, code := EncodeMultiString(tt.names, buf)
			if code != Success {
				t.Fatalf("EncodeMultiString() code = %#x, want success", code)
			}
			if !bytes.Equal(buf[:n], tt.expected) {
				t.Errorf("EncodeMultiString() = %q, want %q", buf[:n], tt.expected)
			}
		})
	}
}

func TestEncodeMultiString_InsufficientBuffer(t *testing.T) {
	buf := bytes.Repeat([]byte{0xAA}, 8)
	n, code := EncodeMultiString([]string{"Reader A"}, buf[:4])
	if code != EInsufficientBuffer {
		t.Fatalf("expected EInsufficientBuffer, got %#x", code)
	}
	if n != 10 {
		t.Errorf("expected required length 10, got %d", n)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xAA}, 8)) {
		t.Errorf("buffer was modified: %x", buf)
	}
}

func TestFill(t *testing.T) {
	buf := make([]byte, 2)
	n, code := fill(buf, []byte{0x90, 0x00})
	if code != Success || n != 2 {
		t.Fatalf("fill() = (%d, %#x), want (2, success)", n, code)
	}

	n, code = fill(buf, []byte{0x01, 0x02, 0x90, 0x00})
	if code != EInsufficientBuffer {
		t.Errorf("expected EInsufficientBuffer, got %#x", code)
	}
	if n != 4 {
		t.Errorf("expected required length 4, got %d", n)
	}
}

func TestCodeOf(t *testing.T) {
	if got := codeOf(nil); got != Success {
		t.Errorf("codeOf(nil) = %#x, want success", got)
	}
	if got := codeOf(scard.Error(0x80100008)); got != EInsufficientBuffer {
		t.Errorf("codeOf(scard.Error) = %#x, want %#x", got, EInsufficientBuffer)
	}
	wrapped := fmt.Errorf("connect: %w", scard.Error(0x80100069))
	if got := codeOf(wrapped); got != WRemovedCard {
		t.Errorf("codeOf(wrapped) = %#x, want %#x", got, WRemovedCard)
	}
	if got := codeOf(errors.New("boom")); got != FInternalError {
		t.Errorf("codeOf(other) = %#x, want %#x", got, FInternalError)
	}
}

func TestReaderStateName(t *testing.T) {
	rs := ReaderState{Reader: []byte("Reader A\x00")}
	if got := rs.ReaderName(); got != "Reader A" {
		t.Errorf("ReaderName() = %q, want %q", got, "Reader A")
	}
	rs = ReaderState{Reader: []byte("unterminated")}
	if got := rs.ReaderName(); got != "unterminated" {
		t.Errorf("ReaderName() = %q, want %q", got, "unterminated")
	}
}

func TestSCard_StaleHandles(t *testing.T) {
	s := NewSCard()

	if code := s.ReleaseContext(42); code != EInvalidHandle {
		t.Errorf("ReleaseContext(stale) = %#x, want EInvalidHandle", code)
	}
	if code := s.Cancel(42); code != EInvalidHandle {
		t.Errorf("Cancel(stale) = %#x, want EInvalidHandle", code)
	}
	if _, code := s.ListReaders(42, make([]byte, 16)); code != EInvalidHandle {
		t.Errorf("ListReaders(stale) = %#x, want EInvalidHandle", code)
	}
	if code := s.Disconnect(7, LeaveCard); code != EInvalidHandle {
		t.Errorf("Disconnect(stale) = %#x, want EInvalidHandle", code)
	}
	if _, code := s.Transmit(7, &T1Pci, []byte{0x00}, make([]byte, 2)); code != EInvalidHandle {
		t.Errorf("Transmit(stale) = %#x, want EInvalidHandle", code)
	}
	if _, code := s.Transmit(7, nil, []byte{0x00}, make([]byte, 2)); code != EInvalidParameter {
		t.Errorf("Transmit(nil pci) = %#x, want EInvalidParameter", code)
	}
}

func TestEstablishContext_InvalidScope(t *testing.T) {
	s := NewSCard()
	if _, code := s.EstablishContext(ScopeGlobal + 1); code != EInvalidValue {
		t.Errorf("EstablishContext(bad scope) = %#x, want EInvalidValue", code)
	}
}

func TestNoteIgnoredScope(t *testing.T) {
	const msg = "Requested context scope is not supported by the backend, using system scope"
	count := func() int {
		cat := logging.CatContext
		n := 0
		for _, e := range logging.Get().GetEntries(0, nil, &cat) {
			if e.Message == msg {
				n++
			}
		}
		return n
	}

	before := count()
	noteIgnoredScope(ScopeUser)
	if got := count(); got != before {
		t.Errorf("default scope logged %d entries", got-before)
	}
	noteIgnoredScope(ScopeGlobal)
	if got := count(); got != before+1 {
		t.Errorf("global scope logged %d entries, want 1", got-before)
	}
}
