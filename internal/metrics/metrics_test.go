package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
)

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", pcsc.ErrTimeout, "timeout"},
		{"wrapped", fmt.Errorf("connect: %w", pcsc.ErrNoSmartcard), "no_smart_card_in_reader"},
		{"resource error", &pcsc.DisconnectError{Err: pcsc.ErrRemovedCard}, "card_was_removed"},
		{"borrowed", pcsc.ErrCardBorrowed, ErrorOther},
		{"plain", errors.New("boom"), ErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorLabel(tt.err); got != tt.want {
				t.Errorf("ErrorLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecordPCSCError(t *testing.T) {
	PCSCErrors.Reset()

	RecordPCSCError("connect", nil)
	if n := testutil.CollectAndCount(PCSCErrors); n != 0 {
		t.Errorf("nil error recorded %d series", n)
	}

	RecordPCSCError("connect", pcsc.ErrNoSmartcard)
	RecordPCSCError("connect", pcsc.ErrNoSmartcard)
	label := ErrorLabel(pcsc.ErrNoSmartcard)
	if got := testutil.ToFloat64(PCSCErrors.WithLabelValues("connect", label)); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	handler := HTTPMiddleware("readers", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readers", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("readers", http.MethodGet, "404")); got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(HTTPRequestDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestHandler(t *testing.T) {
	MonitorEvents.WithLabelValues("card_inserted").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "pcsc_agent_monitor_events_total") {
		t.Error("metrics output is missing the monitor event counter")
	}
}
