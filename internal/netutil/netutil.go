// Package netutil holds small socket helpers shared by the portal and
// confirmation servers.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

func parseHost(host string) ([4]byte, error) {
	if host == "" {
		return [4]byte{}, nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return [4]byte{}, fmt.Errorf("invalid listen host %q: %w", host, err)
	}
	if !ip.Is4() {
		return [4]byte{}, fmt.Errorf("listen host %q is not IPv4", host)
	}
	return ip.As4(), nil
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Port returns the TCP or UDP port of addr, or 0.
func Port(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return 0
}
