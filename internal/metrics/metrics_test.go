package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetState(t *testing.T) {
	all := []string{"ApPortal", "Connecting"}
	SetState("Connecting", all)

	if got := testutil.ToFloat64(State.WithLabelValues("Connecting")); got != 1 {
		t.Errorf("Connecting gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(State.WithLabelValues("ApPortal")); got != 0 {
		t.Errorf("ApPortal gauge = %v, want 0", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	DNSSkipped.WithLabelValues("low_memory").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `provisiond_dns_skipped_total{reason="low_memory"}`) {
		t.Errorf("exposition missing skipped counter:\n%s", body)
	}
}
