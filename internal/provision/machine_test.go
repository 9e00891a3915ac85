package provision

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/credentials"
	"github.com/muurk/provisiond/internal/dnshijack"
	"github.com/muurk/provisiond/internal/radio"
)

type harness struct {
	t       *testing.T
	driver  *radio.SimDriver
	store   *credentials.Store
	machine *Machine
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // Run result, valid once done is closed

	mu          sync.Mutex
	transitions []Transition
}

func newHarness(t *testing.T, mutate func(c *Config)) *harness {
	t.Helper()

	driver := radio.NewSimDriver(map[string]string{"Home": "secret123"})
	rc := radio.DefaultConfig()
	rc.SettleDelay = time.Millisecond
	rc.PollInterval = 10 * time.Millisecond
	rc.ActivationTimeout = time.Second
	controller := radio.NewController(driver, rc, zap.NewNop())

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 150 * time.Millisecond
	cfg.DNS.Host, cfg.DNS.Port = "127.0.0.1", 0
	cfg.DNS.ReadTimeout = 50 * time.Millisecond
	cfg.Headroom = dnshijack.HeadroomFunc(func() uint64 { return 1 << 30 })
	cfg.Portal.Host, cfg.Portal.Port = "127.0.0.1", 0
	cfg.Portal.AcceptTimeout = 50 * time.Millisecond
	cfg.DHCPEnabled = false
	cfg.Confirm.Host, cfg.Confirm.PreferredPort, cfg.Confirm.FallbackPort = "127.0.0.1", 0, 0
	cfg.Advertise = false
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		t:      t,
		driver: driver,
		store:  credentials.NewStore(filepath.Join(t.TempDir(), "wifi_credentials.txt")),
		done:   make(chan struct{}),
	}
	h.machine = New(cfg, controller, h.store, zap.NewNop())
	h.machine.OnTransition = func(tr Transition) {
		h.mu.Lock()
		h.transitions = append(h.transitions, tr)
		h.mu.Unlock()
	}
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = h.machine.Run(ctx)
		close(h.done)
	}()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(3 * time.Second):
		}
	})
}

// stop cancels Run and returns its result.
func (h *harness) stop() error {
	h.t.Helper()
	h.cancel()
	select {
	case <-h.done:
		return h.err
	case <-time.After(3 * time.Second):
		h.t.Fatal("Run() did not return after cancel")
		return nil
	}
}

func (h *harness) wait(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s (state %s)", what, h.machine.State())
}

func (h *harness) waitPortal() Endpoints {
	h.t.Helper()
	h.wait("portal servers", func() bool {
		ep := h.machine.Endpoints()
		return h.machine.State() == StateAPPortal && ep.DNS != nil && ep.Portal != nil
	})
	return h.machine.Endpoints()
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, len(h.transitions))
	for i, tr := range h.transitions {
		out[i] = tr.To
	}
	return out
}

func submit(t *testing.T, addr net.Addr, body string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	req := "POST /provision HTTP/1.1\r\nHost: portal\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(resp)
}

func TestNoCredentialsRaisesPortal(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	ep := h.waitPortal()

	m := new(dns.Msg)
	m.SetQuestion("connectivitycheck.gstatic.com.", dns.TypeA)
	resp, _, err := new(dns.Client).Exchange(m, ep.DNS.String())
	if err != nil {
		t.Fatalf("DNS exchange error = %v", err)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("answers = %d, want 1", len(resp.Answer))
	}
	a, ok := resp.Answer[0].(*dns.A)
	if !ok || a.A.String() != "192.168.4.1" {
		t.Errorf("answer = %v, want A 192.168.4.1", resp.Answer[0])
	}

	page, err := http.Get("http://" + ep.Portal.String() + "/generate_204")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(page.Body)
	page.Body.Close()
	if page.StatusCode != http.StatusOK || !strings.Contains(string(body), "<form") {
		t.Errorf("portal page status = %d, body = %q", page.StatusCode, body)
	}

	if ap, sta := h.driver.Active(); !ap || sta {
		t.Errorf("radio roles ap=%v station=%v, want AP only", ap, sta)
	}
	if got := h.driver.LastAP().SSID; got != "ESP32_LAB" {
		t.Errorf("AP ssid = %q, want ESP32_LAB", got)
	}

	if err := h.stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if ap, _ := h.driver.Active(); ap {
		t.Error("AP still active after shutdown")
	}
}

func TestSubmissionJoinsAndConfirms(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	ep := h.waitPortal()

	resp := submit(t, ep.Portal, "ssid=Home&password=secret123")
	if !strings.Contains(resp, "Provisioning received. Attempting connection...") {
		t.Fatalf("response = %q, want acknowledgement", resp)
	}

	h.wait("confirmation server", func() bool { return h.machine.State() == StateConfirmServing })

	saved, err := h.store.Load()
	if err != nil || saved.SSID != "Home" || saved.Password != "secret123" {
		t.Errorf("stored credentials = %+v, %v", saved, err)
	}

	ep = h.machine.Endpoints()
	if ep.DNS != nil || ep.Portal != nil {
		t.Errorf("portal servers still listed after join: %+v", ep)
	}
	if ap, sta := h.driver.Active(); ap || !sta {
		t.Errorf("radio roles ap=%v station=%v, want station only", ap, sta)
	}
	if n := h.driver.Violations(); n != 0 {
		t.Errorf("roles overlapped %d times", n)
	}

	session := h.machine.Session()
	if session.SSID != "Home" || session.Attempts != 1 || session.ConfirmPort == 0 {
		t.Errorf("Session() = %+v", session)
	}

	page, err := http.Get("http://127.0.0.1:" + strconv.Itoa(session.ConfirmPort) + "/")
	if err != nil {
		t.Fatalf("GET confirmation error = %v", err)
	}
	body, _ := io.ReadAll(page.Body)
	page.Body.Close()
	if page.StatusCode != http.StatusOK || !strings.Contains(string(body), "Device connected") {
		t.Errorf("confirmation status = %d, body = %q", page.StatusCode, body)
	}

	want := []State{StateAPPortal, StateConnecting, StateConnected, StateConfirmServing}
	if got := h.states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	if err := h.stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestEmptyPasswordIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	ep := h.waitPortal()

	resp := submit(t, ep.Portal, "ssid=Home&password=")
	if !strings.Contains(resp, "200 OK") {
		t.Fatalf("response = %q, want 200", resp)
	}

	time.Sleep(100 * time.Millisecond)
	if got := h.machine.State(); got != StateAPPortal {
		t.Errorf("State() = %s, want ap_portal", got)
	}
	if _, err := os.Stat(h.store.Path()); !os.IsNotExist(err) {
		t.Error("incomplete credentials were persisted")
	}
	if h.machine.Endpoints().Portal == nil {
		t.Error("portal stopped after incomplete submission")
	}

	// The portal keeps serving.
	resp = submit(t, ep.Portal, "ssid=Home&password=secret123")
	if !strings.Contains(resp, "200 OK") {
		t.Errorf("second response = %q", resp)
	}
	h.wait("confirmation server", func() bool { return h.machine.State() == StateConfirmServing })
}

func TestFailedJoinReturnsToPortal(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	ep := h.waitPortal()

	submit(t, ep.Portal, "ssid=Home&password=wrong-secret")
	h.wait("second portal", func() bool {
		return h.machine.Session().Failures == 1 && h.machine.Endpoints().Portal != nil
	})

	if got := h.machine.State(); got != StateAPPortal {
		t.Errorf("State() = %s, want ap_portal", got)
	}
	if ap, sta := h.driver.Active(); !ap || sta {
		t.Errorf("radio roles ap=%v station=%v, want AP only", ap, sta)
	}
	want := []State{StateAPPortal, StateConnecting, StateAPPortal}
	if got := h.states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if s := h.machine.Session(); s.LastError == "" {
		t.Error("Session().LastError is empty after a failed join")
	}
	if n := h.driver.Violations(); n != 0 {
		t.Errorf("roles overlapped %d times", n)
	}
}

func TestAttemptLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxAttempts = 1 })
	h.start()
	ep := h.waitPortal()

	submit(t, ep.Portal, "ssid=Home&password=wrong-secret")
	select {
	case <-h.done:
		if !errors.Is(h.err, ErrAttemptsExhausted) {
			t.Errorf("Run() error = %v, want ErrAttemptsExhausted", h.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not give up")
	}
}

func TestSavedCredentialsSkipPortal(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credentials.Credentials{SSID: "Home", Password: "secret123"}); err != nil {
		t.Fatal(err)
	}
	h.start()
	h.wait("confirmation server", func() bool { return h.machine.State() == StateConfirmServing })

	for _, ev := range h.driver.History() {
		if ev == "ap:on" {
			t.Errorf("AP raised despite valid saved credentials: %v", h.driver.History())
		}
	}
	want := []State{StateConnected, StateConfirmServing}
	if got := h.states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestStaleSavedCredentialsFallBackToPortal(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credentials.Credentials{SSID: "Gone", Password: "whatever1"}); err != nil {
		t.Fatal(err)
	}
	h.start()
	h.waitPortal()

	if got := h.states(); !equalStates(got, []State{StateAPPortal}) {
		t.Errorf("transitions = %v, want [ap_portal]", got)
	}
}

func TestAPActivationFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.FailAP = true
	h.start()

	select {
	case <-h.done:
		var rerr *radio.Error
		if !errors.As(h.err, &rerr) || rerr.Kind != radio.KindActivation {
			t.Errorf("Run() error = %v, want activation error", h.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not fail")
	}
}

func TestStuckAccessPointBlocksJoin(t *testing.T) {
	h := newHarness(t, nil)
	h.driver.FailDeactivateAP = true
	h.start()
	ep := h.waitPortal()

	submit(t, ep.Portal, "ssid=Home&password=secret123")
	select {
	case <-h.done:
		var rerr *radio.Error
		if !errors.As(h.err, &rerr) || rerr.Kind != radio.KindDeactivation {
			t.Errorf("Run() error = %v, want deactivation error", h.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not fail")
	}

	if ap, sta := h.driver.Active(); !ap || sta {
		t.Errorf("radio roles ap=%v station=%v, want AP only", ap, sta)
	}
	if n := h.driver.Violations(); n != 0 {
		t.Errorf("roles overlapped %d times; history %v", n, h.driver.History())
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	h.waitPortal()

	if err := h.machine.Run(context.Background()); err == nil {
		t.Error("second Run() should fail")
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
