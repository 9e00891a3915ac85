package discovery

import (
	"fmt"
	"time"
)

// Node is a provisioned node found on the local network.
type Node struct {
	// Instance is the mDNS service instance name (confirm.service_name)
	Instance string

	// Hostname is the mDNS hostname (e.g., "provisiond-kitchen.local.")
	Hostname string

	// IP is the IPv4 address the node obtained in station mode
	IP string

	// Port is the confirmation server port (80, or 8080 on fallback)
	Port int

	// Metadata contains the TXT record data, e.g. "provisiond=v0.3.0", "ssid=Home"
	Metadata map[string]string

	// DiscoveredAt is when the node was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("provisiond node %s (%s) at %s:%d", n.Instance, n.Hostname, n.IP, n.Port)
}

// BaseURL returns the confirmation server URL
func (n *Node) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", n.IP, n.Port)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (n *Node) GetMetadata(key string) string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata[key]
}
