// Package confirm serves the post-join confirmation page.
//
// After the node joins its target network it binds the preferred port
// (80), falling back to a second port (8080) when the first cannot be
// bound, and answers every request with a fixed success page. Connections
// are served one at a time.
package confirm

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/logging"
	"github.com/muurk/provisiond/internal/netutil"
	"github.com/muurk/provisiond/internal/portal"
)

//go:embed assets/success.html
var successPage []byte

// DefaultPage serves the built-in success page.
func DefaultPage() portal.Page {
	return portal.StaticPage(successPage)
}

// Bind listens on preferred and, if that fails, on fallback. It returns
// the listener and the port actually bound.
func Bind(host string, preferred, fallback int) (net.Listener, int, error) {
	l, err := netutil.ListenTCP4(host, preferred, 1)
	if err == nil {
		return l, netutil.Port(l.Addr()), nil
	}
	l, ferr := netutil.ListenTCP4(host, fallback, 1)
	if ferr != nil {
		return nil, 0, fmt.Errorf("failed to bind confirmation server on %d or %d: %w", preferred, fallback, errors.Join(err, ferr))
	}
	return l, netutil.Port(l.Addr()), nil
}

// Config holds the confirmation server configuration.
type Config struct {
	Host          string
	PreferredPort int
	FallbackPort  int
	ReadTimeout   time.Duration // Bounds reading the request lines
	Page          portal.Page
}

// DefaultConfig returns the production settings.
func DefaultConfig() *Config {
	return &Config{
		PreferredPort: 80,
		FallbackPort:  8080,
		ReadTimeout:   5 * time.Second,
	}
}

// Server is the confirmation server.
type Server struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	port     int
}

// New creates a confirmation server.
func New(config *Config, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Page == nil {
		config.Page = DefaultPage()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Server{config: config, logger: logger}
}

// Listen binds the preferred or fallback port.
func (s *Server) Listen() error {
	l, port, err := Bind(s.config.Host, s.config.PreferredPort, s.config.FallbackPort)
	if err != nil {
		return err
	}
	if port != s.config.PreferredPort && s.config.PreferredPort != 0 {
		s.logger.Warn("Preferred port unavailable, using fallback",
			zap.Int("preferred", s.config.PreferredPort),
			zap.Int("port", port),
		)
	}

	s.mu.Lock()
	s.listener = l
	s.port = port
	s.mu.Unlock()

	s.logger.Info("Confirmation server listening", zap.String("addr", l.Addr().String()))
	return nil
}

// Port returns the bound port, or 0 before Listen.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Run binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve answers connections sequentially until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("confirmation server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.logger.Info("Confirmation server stopped")
				return nil
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			if err := pause(ctx, 50*time.Millisecond); err != nil {
				return nil
			}
			continue
		}
		s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	remoteAddr := conn.RemoteAddr().String()
	logging.LogConnection(s.logger, remoteAddr, "client_connected")

	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	// Discard the request up to the blank line ending the headers.
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil || line == "\r\n" || line == "\n" {
			break
		}
	}

	html, err := s.config.Page.Load()
	status, contentType := http.StatusOK, "text/html"
	if err != nil {
		s.logger.Error("Failed to load confirmation page", zap.Error(err))
		status, contentType, html = http.StatusInternalServerError, "text/plain", []byte("Error loading confirmation page.")
	}

	if err := portal.WriteResponse(conn, status, contentType, html); err != nil {
		s.logger.Warn("Failed to write response", zap.String("remote_addr", remoteAddr), zap.Error(err))
		return
	}
	logging.LogHTTPResponse(s.logger, remoteAddr, status, len(html))
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
