package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type confirmed nodes advertise
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for node discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default confirmation server port
	DefaultPort = 80

	// MarkerKey is the TXT key every provisiond advertisement carries.
	// Its value is the daemon version.
	MarkerKey = "provisiond"
)

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise registers the confirmation server under instance on every
// multicast interface. txt entries are sorted for stable records.
func Advertise(instance string, port int, version string, txt map[string]string) (*Advertisement, error) {
	records := []string{MarkerKey + "=" + version, "path=/"}
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		records = append(records, k+"="+txt[k])
	}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, records, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement. Safe to call more than once.
func (a *Advertisement) Shutdown() {
	if a == nil {
		return
	}
	a.once.Do(a.server.Shutdown)
}

// Scanner handles mDNS node discovery
type Scanner struct {
	// Timeout is the maximum time to wait for node discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForNodes discovers provisioned nodes until the timeout or ctx ends.
func (s *Scanner) ScanForNodes(ctx context.Context) ([]*Node, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		nodes []*Node
	)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if node := parseServiceEntry(entry); node != nil {
				mu.Lock()
				nodes = append(nodes, node)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Node(nil), nodes...), nil
}

// WaitForNode waits for the node advertising instance.
func (s *Scanner) WaitForNode(ctx context.Context, instance string) (*Node, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Node, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			node := parseServiceEntry(entry)
			if node != nil && node.Instance == instance {
				select {
				case found <- node:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case node := <-found:
		return node, nil
	case <-ctx.Done():
		select {
		case node := <-found:
			return node, nil
		default:
		}
		return nil, fmt.Errorf("node %q not found within timeout", instance)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Node.
// Returns nil if the entry is not a provisiond advertisement.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Node {
	metadata := parseText(entry.Text)
	if _, ok := metadata[MarkerKey]; !ok {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Node{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// parseText splits TXT records in "key=value" form. Keys without a value
// map to "".
func parseText(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}
	return metadata
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan(ctx context.Context) ([]*Node, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.ScanForNodes(ctx)
}
