//go:build !unix

package netutil

import (
	"net"
	"strconv"
)

// ListenTCP4 opens an IPv4 TCP listener on host:port. The backlog is left
// to the platform default.
func ListenTCP4(host string, port, _ int) (net.Listener, error) {
	if _, err := parseHost(host); err != nil {
		return nil, err
	}
	return net.Listen("tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
}
