// Package probe checks a provisioning node from a client joined to its AP.
//
// A probe resolves a connectivity-check name through the node's DNS
// responder and expects the node's own address back, fetches the portal
// page and, when credentials are given, submits them.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/muurk/provisiond/internal/portal"
)

const (
	// DefaultQueryName is resolved through the node; any name would do.
	DefaultQueryName = "connectivitycheck.gstatic.com."

	// DefaultTimeout is the per-stage timeout
	DefaultTimeout = 5 * time.Second
)

// Stage names one probe step.
type Stage string

const (
	StageDNS    Stage = "dns"
	StagePortal Stage = "portal"
	StageSubmit Stage = "submit"
)

// Config describes the node to probe.
type Config struct {
	Node       netip.Addr
	DNSPort    int
	HTTPPort   int
	SubmitPath string
	QueryName  string
	Timeout    time.Duration

	// Submitted only when SSID is set.
	SSID     string
	Password string
}

// DefaultConfig probes the default portal address.
func DefaultConfig() *Config {
	return &Config{
		Node:       netip.AddrFrom4([4]byte{192, 168, 4, 1}),
		DNSPort:    53,
		HTTPPort:   80,
		SubmitPath: "/provision",
		QueryName:  DefaultQueryName,
		Timeout:    DefaultTimeout,
	}
}

// Result is the outcome of one stage.
type Result struct {
	Stage    Stage
	Skipped  bool
	Detail   string
	Duration time.Duration
	Err      error
}

// OK reports whether the stage ran and passed.
func (r Result) OK() bool {
	return !r.Skipped && r.Err == nil
}

// Client runs probe stages against one node.
type Client struct {
	config     *Config
	dnsClient  *dns.Client
	httpClient *http.Client
}

// NewClient creates a client for config.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.QueryName == "" {
		config.QueryName = DefaultQueryName
	}
	return &Client{
		config:     config,
		dnsClient:  &dns.Client{Net: "udp", Timeout: config.Timeout},
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// BaseURL returns the portal URL.
func (c *Client) BaseURL() string {
	return "http://" + net.JoinHostPort(c.config.Node.String(), strconv.Itoa(c.config.HTTPPort))
}

// Run executes every stage in order, calling report after each. A failed
// stage skips the stages after it. The first failure is returned.
func (c *Client) Run(ctx context.Context, report func(Result)) error {
	if report == nil {
		report = func(Result) {}
	}

	stages := []struct {
		stage Stage
		run   func(context.Context) (string, error)
		skip  bool
	}{
		{StageDNS, c.CheckDNS, false},
		{StagePortal, c.CheckPortal, false},
		{StageSubmit, c.Submit, c.config.SSID == ""},
	}

	var first error
	for _, s := range stages {
		if s.skip || first != nil {
			report(Result{Stage: s.stage, Skipped: true})
			continue
		}
		start := time.Now()
		detail, err := s.run(ctx)
		report(Result{Stage: s.stage, Detail: detail, Duration: time.Since(start), Err: err})
		if err != nil {
			first = err
		}
	}
	return first
}

// CheckDNS resolves the query name through the node and expects the
// node's address.
func (c *Client) CheckDNS(ctx context.Context) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(c.config.QueryName), dns.TypeA)

	addr := net.JoinHostPort(c.config.Node.String(), strconv.Itoa(c.config.DNSPort))
	resp, _, err := c.dnsClient.ExchangeContext(ctx, m, addr)
	if err != nil {
		return "", classify(StageDNS, "query failed", err)
	}
	if resp.Id != m.Id {
		return "", &Error{Type: ErrTypeProtocol, Stage: StageDNS, Message: "transaction id mismatch"}
	}

	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		got, _ := netip.AddrFromSlice(a.A.To4())
		if got != c.config.Node {
			return "", &Error{
				Type:    ErrTypeNotHijacked,
				Stage:   StageDNS,
				Message: fmt.Sprintf("%s resolved to %s, not %s", c.config.QueryName, got, c.config.Node),
			}
		}
		return fmt.Sprintf("%s -> %s ttl %d", strings.TrimSuffix(c.config.QueryName, "."), got, a.Hdr.Ttl), nil
	}
	return "", &Error{Type: ErrTypeNotHijacked, Stage: StageDNS, Message: "no A record in answer"}
}

// CheckPortal fetches the portal page.
func (c *Client) CheckPortal(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+"/", nil)
	if err != nil {
		return "", classify(StagePortal, "failed to create request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(StagePortal, "portal unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(StagePortal, "failed to read portal page", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Type:       ErrTypeHTTP,
			Stage:      StagePortal,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("portal returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return "", &Error{Type: ErrTypeProtocol, Stage: StagePortal, Message: "portal page is not HTML"}
	}
	return fmt.Sprintf("%d bytes of HTML", len(body)), nil
}

// Submit posts the configured credentials and expects the
// acknowledgement.
func (c *Client) Submit(ctx context.Context) (string, error) {
	form := url.Values{"ssid": {c.config.SSID}, "password": {c.config.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+c.config.SubmitPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", classify(StageSubmit, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(StageSubmit, "submission failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(StageSubmit, "failed to read acknowledgement", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Type: ErrTypeHTTP, Stage: StageSubmit, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("submission returned %d", resp.StatusCode)}
	}
	if string(body) != portal.AckText {
		return "", &Error{Type: ErrTypeProtocol, Stage: StageSubmit,
			Message: fmt.Sprintf("unexpected acknowledgement %q", body)}
	}
	return fmt.Sprintf("%q accepted", c.config.SSID), nil
}
