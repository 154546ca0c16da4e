package pcsc

import (
	"errors"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/SimplyPrint/pcsc-agent/internal/native"
	"github.com/SimplyPrint/pcsc-agent/internal/native/nativetest"
)

func establish(t *testing.T, f *nativetest.Fake) *Context {
	t.Helper()
	ctx, err := EstablishWith(f, ScopeUser)
	if err != nil {
		t.Fatalf("EstablishWith failed: %v", err)
	}
	return ctx
}

func TestEstablishAndRelease(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)

	if err := ctx.IsValid(); err != nil {
		t.Errorf("IsValid() = %v, want nil", err)
	}
	if err := ctx.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	if f.OpenContexts() != 0 {
		t.Errorf("%d contexts still open", f.OpenContexts())
	}

	// A released context never reaches the service again.
	if err := ctx.Release(); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("second Release() = %v, want ErrInvalidHandle", err)
	}
	if err := ctx.IsValid(); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("IsValid() after release = %v, want ErrInvalidHandle", err)
	}
	ctx.Close()
	if got := f.Calls("ReleaseContext"); got != 1 {
		t.Errorf("ReleaseContext called %d times, want 1", got)
	}
	if got := f.Calls("IsValidContext"); got != 1 {
		t.Errorf("IsValidContext called %d times, want 1", got)
	}
}

func TestEstablish_Failure(t *testing.T) {
	f := nativetest.New()
	f.FailNext("EstablishContext", native.ENoService)

	ctx, err := EstablishWith(f, ScopeSystem)
	if !errors.Is(err, ErrNoService) {
		t.Fatalf("EstablishWith() error = %v, want ErrNoService", err)
	}
	if ctx != nil {
		t.Error("EstablishWith returned a context on failure")
	}

	if _, err := EstablishWith(f, Scope(42)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("invalid scope error = %v, want ErrInvalidValue", err)
	}
}

func TestRelease_FailureKeepsContext(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	f.FailNext("ReleaseContext", native.ENoService)
	err := ctx.Release()

	var rerr *ReleaseError
	if !errors.As(err, &rerr) {
		t.Fatalf("Release() error = %v, want *ReleaseError", err)
	}
	if !errors.Is(err, ErrNoService) {
		t.Errorf("Release() error = %v, want ErrNoService", err)
	}
	if rerr.Context != ctx {
		t.Fatal("ReleaseError does not carry the context")
	}

	// The context is still usable and the release can be retried.
	if _, err := rerr.Context.ListReaders(make([]byte, 64)); err != nil {
		t.Errorf("ListReaders after failed release = %v", err)
	}
	if err := rerr.Context.Release(); err != nil {
		t.Fatalf("retried Release() = %v", err)
	}
	if f.OpenContexts() != 0 {
		t.Errorf("%d contexts still open", f.OpenContexts())
	}
}

func TestClose_DiscardsErrors(t *testing.T) {
	f := nativetest.New()
	ctx := establish(t, f)

	f.FailNext("ReleaseContext", native.ENoService)
	ctx.Close()

	if err := ctx.IsValid(); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("IsValid() after Close = %v, want ErrInvalidHandle", err)
	}
	ctx.Close()
	if got := f.Calls("ReleaseContext"); got != 1 {
		t.Errorf("ReleaseContext called %d times, want 1", got)
	}
}

func TestListReaders(t *testing.T) {
	f := nativetest.New("Reader A", "Reader B")
	ctx := establish(t, f)
	defer ctx.Close()

	buf := make([]byte, 64)
	names, err := ctx.ListReaders(buf)
	if err != nil {
		t.Fatalf("ListReaders() = %v", err)
	}
	if got := names.Strings(); !reflect.DeepEqual(got, []string{"Reader A", "Reader B"}) {
		t.Errorf("names = %q", got)
	}
	if names.Len() != 2 {
		t.Errorf("Len() = %d, want 2", names.Len())
	}

	name, _ := names.Next()
	if &name[0] != &buf[0] {
		t.Error("names are not views into the caller's buffer")
	}
}

func TestListReaders_ExactBuffer(t *testing.T) {
	f := nativetest.New("Reader A", "Reader B")
	ctx := establish(t, f)
	defer ctx.Close()

	need := len("Reader A\x00Reader B\x00\x00")
	names, err := ctx.ListReaders(make([]byte, need))
	if err != nil {
		t.Fatalf("ListReaders() with exact buffer = %v", err)
	}
	if names.Len() != 2 {
		t.Errorf("Len() = %d, want 2", names.Len())
	}

	if _, err := ctx.ListReaders(make([]byte, need-1)); !errors.Is(err, ErrInsufficientBuffer) {
		t.Errorf("ListReaders() with short buffer = %v, want ErrInsufficientBuffer", err)
	}
}

func TestListReaders_NoReaders(t *testing.T) {
	f := nativetest.New()
	ctx := establish(t, f)
	defer ctx.Close()

	names, err := ctx.ListReaders(make([]byte, 64))
	if err != nil {
		t.Fatalf("ListReaders() with no readers = %v, want nil", err)
	}
	if names.Len() != 0 {
		t.Errorf("Len() = %d, want 0", names.Len())
	}
	if _, ok := names.Next(); ok {
		t.Error("Next() returned a name for an empty list")
	}
}

func TestListReaderNames_Grows(t *testing.T) {
	long := strings.Repeat("R", 300)
	f := nativetest.New(long, "Reader B")
	ctx := establish(t, f)
	defer ctx.Close()

	names, err := ctx.ListReaderNames(4096)
	if err != nil {
		t.Fatalf("ListReaderNames() = %v", err)
	}
	if !reflect.DeepEqual(names, []string{long, "Reader B"}) {
		t.Errorf("names = %q", names)
	}
	if got := f.Calls("ListReaders"); got != 2 {
		t.Errorf("ListReaders called %d times, want 2", got)
	}

	if _, err := ctx.ListReaderNames(100); !errors.Is(err, ErrInsufficientBuffer) {
		t.Errorf("ListReaderNames(100) = %v, want ErrInsufficientBuffer", err)
	}
}

func TestListReaderNames_NonPositiveLimit(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	for _, maxSize := range []int{0, -1} {
		if _, err := ctx.ListReaderNames(maxSize); !errors.Is(err, ErrInsufficientBuffer) {
			t.Errorf("ListReaderNames(%d) = %v, want ErrInsufficientBuffer", maxSize, err)
		}
	}
	if got := f.Calls("ListReaders"); got != 0 {
		t.Errorf("ListReaders called %d times, want 0", got)
	}
}

func TestConnect_Errors(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	if _, err := ctx.Connect("Reader\x00A", ShareShared, ProtocolsT0|ProtocolsT1); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Connect with NUL in name = %v, want ErrInvalidParameter", err)
	}
	if f.Calls("Connect") != 0 {
		t.Error("a name with NUL reached the service")
	}
	if _, err := ctx.Connect("Reader Z", ShareShared, ProtocolsT1); !errors.Is(err, ErrUnknownReader) {
		t.Errorf("Connect to missing reader = %v, want ErrUnknownReader", err)
	}
	f.FailNext("Connect", native.ENoSmartcard)
	if _, err := ctx.Connect("Reader A", ShareShared, ProtocolsT1); !errors.Is(err, ErrNoSmartcard) {
		t.Errorf("Connect with no card = %v, want ErrNoSmartcard", err)
	}
}

func TestGetStatusChange_Timeout(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	states := []ReaderState{NewReaderState("Reader A", StateUnaware)}
	if err := ctx.GetStatusChange(10*time.Millisecond, states); !errors.Is(err, ErrTimeout) {
		t.Errorf("GetStatusChange() = %v, want ErrTimeout", err)
	}
}

func TestGetStatusChange_UpdatesRecords(t *testing.T) {
	f := nativetest.New("Reader A")
	f.StatusChange = func(states []native.ReaderState) native.Code {
		states[0].EventState = native.StateChanged | native.StatePresent | 1<<16
		states[0].AtrLen = uint32(copy(states[0].Atr[:], []byte{0x3B, 0x00}))
		return native.Success
	}
	ctx := establish(t, f)
	defer ctx.Close()

	states := []ReaderState{NewReaderState("Reader A", StateUnaware)}
	if err := ctx.GetStatusChange(Infinite, states); err != nil {
		t.Fatalf("GetStatusChange() = %v", err)
	}
	if !states[0].EventState().Has(StatePresent) {
		t.Errorf("EventState() = %s, want present", states[0].EventState())
	}
	if states[0].EventCount() != 1 {
		t.Errorf("EventCount() = %d, want 1", states[0].EventCount())
	}
	if !reflect.DeepEqual(states[0].Atr(), []byte{0x3B, 0x00}) {
		t.Errorf("Atr() = % X", states[0].Atr())
	}
}

func TestCanceler_InterruptsWait(t *testing.T) {
	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	canceler := ctx.Canceler()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := canceler.Cancel(); err != nil {
				t.Errorf("Cancel() = %v", err)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	states := []ReaderState{NewReaderState(PnPNotification, StateUnaware)}
	err := ctx.GetStatusChange(Infinite, states)
	close(done)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("GetStatusChange() = %v, want ErrCancelled", err)
	}
}

func TestCanceler_WithoutWaitAndAfterRelease(t *testing.T) {
	f := nativetest.New()
	ctx := establish(t, f)
	canceler := ctx.Canceler()

	if err := canceler.Cancel(); err != nil {
		t.Errorf("Cancel() with no wait = %v", err)
	}
	if err := ctx.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	if err := canceler.Cancel(); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Cancel() after release = %v, want ErrInvalidHandle", err)
	}
}

func TestTimeoutMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want uint32
	}{
		{Infinite, native.Infinite},
		{-time.Hour, native.Infinite},
		{0, 0},
		{1500 * time.Microsecond, 1},
		{time.Second, 1000},
		{time.Duration(native.Infinite-1) * time.Millisecond, native.Infinite - 1},
		{time.Duration(native.Infinite) * time.Millisecond, native.Infinite},
		{1 << 62, native.Infinite},
	}

	for _, tt := range tests {
		if got := timeoutMillis(tt.in); got != tt.want {
			t.Errorf("timeoutMillis(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestContext_WrongThreadPanics(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "windows" {
		t.Skip("thread identity is not checked on " + runtime.GOOS)
	}

	f := nativetest.New("Reader A")
	ctx := establish(t, f)
	defer ctx.Close()

	// The establishing goroutine owns its thread, so any other goroutine
	// runs elsewhere.
	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		_ = ctx.IsValid()
	}()

	r := <-panicked
	if r == nil {
		t.Fatal("IsValid from another thread did not panic")
	}
	if msg, _ := r.(string); !strings.Contains(msg, "IsValid") {
		t.Errorf("unexpected panic value %v", r)
	}
	if f.Calls("IsValidContext") != 0 {
		t.Error("call from the wrong thread reached the service")
	}
}
