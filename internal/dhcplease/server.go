package dhcplease

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	dhcp "github.com/krolaw/dhcp4"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/muurk/provisiond/internal/logging"
)

// Config holds the lease server configuration.
type Config struct {
	Interface string // Only requests arriving here are answered; empty answers all
	Host      string
	Port      int
}

// DefaultConfig returns the standard server port on the default AP
// interface.
func DefaultConfig() *Config {
	return &Config{Interface: "wlan0", Port: 67}
}

// interfaceConn filters datagrams by the interface they arrived on.
// Dropped datagrams are reported as zero length, which dhcp.Serve skips.
type interfaceConn struct {
	conn    *ipv4.PacketConn
	cm      *ipv4.ControlMessage
	ifIndex int
}

func (c *interfaceConn) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	n, c.cm, addr, err = c.conn.ReadFrom(b)
	if err != nil {
		return n, addr, err
	}
	if c.ifIndex != 0 && (c.cm == nil || c.cm.IfIndex != c.ifIndex) {
		n = 0
	}
	return n, addr, nil
}

func (c *interfaceConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	var cm *ipv4.ControlMessage
	if c.cm != nil {
		// Reply out of the interface the request came in on.
		cm = &ipv4.ControlMessage{IfIndex: c.cm.IfIndex}
	}
	return c.conn.WriteTo(b, cm, addr)
}

// Server runs a Handler on a UDP socket.
type Server struct {
	config  *Config
	handler dhcp.Handler
	logger  *zap.Logger

	mu   sync.Mutex
	conn net.PacketConn
}

// NewServer creates a lease server for handler.
func NewServer(config *Config, handler dhcp.Handler, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Server{config: config, handler: handler, logger: logger}
}

// Listen binds the UDP socket.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind dhcp socket %s: %w", addr, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("DHCP server listening",
		zap.String("addr", conn.LocalAddr().String()),
		zap.String("interface", s.config.Interface),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve answers requests until ctx is cancelled and closes the socket on
// return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("dhcp server is not listening")
	}
	defer conn.Close()

	ifIndex := 0
	if s.config.Interface != "" {
		iface, err := net.InterfaceByName(s.config.Interface)
		if err != nil {
			return fmt.Errorf("dhcp interface %s: %w", s.config.Interface, err)
		}
		ifIndex = iface.Index
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		if ifIndex != 0 {
			return fmt.Errorf("failed to enable interface control messages: %w", err)
		}
		s.logger.Debug("Interface control messages unavailable", zap.Error(err))
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	serveConn := &interfaceConn{conn: p, ifIndex: ifIndex}
	for {
		err := dhcp.Serve(serveConn, s.handler)
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			s.logger.Info("DHCP server stopped")
			return nil
		}
		// A failed reply ends dhcp.Serve; keep answering other clients.
		s.logger.Warn("DHCP serve error", zap.Error(err))
	}
}
