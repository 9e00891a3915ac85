//go:build unix

package netutil

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenTCP4 opens an IPv4 TCP listener on host:port with SO_REUSEADDR set
// and the given accept backlog. An empty host binds every interface.
func ListenTCP4(host string, port, backlog int) (net.Listener, error) {
	addr, err := parseHost(host)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (net.Listener, error) {
		unix.Close(fd)
		return nil, fmt.Errorf("%s %s:%d: %w", op, host, port, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp4:%s:%d", host, port))
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return l, nil
}
