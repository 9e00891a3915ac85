package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/credentials"
	"github.com/muurk/provisiond/internal/logging"
	"github.com/muurk/provisiond/internal/metrics"
	"github.com/muurk/provisiond/internal/netutil"
)

// Fixed response bodies.
const (
	AckText       = "Provisioning received. Attempting connection..."
	PageErrorText = "Error loading portal page."
)

// Config holds the portal server configuration.
type Config struct {
	Host          string
	Port          int
	Backlog       int
	ReadBuffer    int           // Size of the single read per connection
	AcceptTimeout time.Duration // Accept deadline, timeouts silently loop
	ReadTimeout   time.Duration
	SubmitPath    string
}

// DefaultConfig returns the production portal settings.
func DefaultConfig() *Config {
	return &Config{
		Port:          80,
		Backlog:       5,
		ReadBuffer:    1024,
		AcceptTimeout: 5 * time.Second,
		ReadTimeout:   5 * time.Second,
		SubmitPath:    "/provision",
	}
}

// Submission is emitted for every credential form posted to the portal,
// including ones with empty fields.
type Submission struct {
	Credentials credentials.Credentials
	RemoteAddr  string
	ReceivedAt  time.Time
}

// Server is the captive portal HTTP server. Connections are handled one at
// a time on the accepting goroutine.
type Server struct {
	config *Config
	page   Page
	store  *credentials.Store
	logger *zap.Logger
	events chan Submission

	mu       sync.Mutex
	listener net.Listener
}

// New creates a portal server. store may be nil, in which case submissions
// are emitted but never persisted.
func New(config *Config, page Page, store *credentials.Store, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if page == nil {
		page = DefaultPage()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Server{
		config: config,
		page:   page,
		store:  store,
		logger: logger,
		events: make(chan Submission, 1),
	}
}

// Submissions delivers posted credential forms.
func (s *Server) Submissions() <-chan Submission {
	return s.events
}

// Listen binds the TCP listener with SO_REUSEADDR and the configured
// backlog.
func (s *Server) Listen() error {
	l, err := netutil.ListenTCP4(s.config.Host, s.config.Port, s.config.Backlog)
	if err != nil {
		return fmt.Errorf("failed to bind portal listener: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("Portal server listening", zap.String("addr", l.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Serve accepts connections until ctx is cancelled and closes the listener
// on return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("portal server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer func() {
		_ = l.Close()
		s.logger.Info("Portal server stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if d, ok := l.(deadliner); ok && s.config.AcceptTimeout > 0 {
			_ = d.SetDeadline(time.Now().Add(s.config.AcceptTimeout))
		}

		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if netutil.IsTimeout(err) {
				continue
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}

		s.handleConnection(ctx, conn)
	}
}

// handleConnection answers one request. The connection is closed before a
// submission is emitted so the client never waits on a join attempt.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	logging.LogConnection(s.logger, remoteAddr, "connection_accepted")

	sub := s.respond(conn, remoteAddr)
	_ = conn.Close()
	logging.LogConnection(s.logger, remoteAddr, "connection_closed")

	if sub == nil {
		return
	}
	select {
	case s.events <- *sub:
	case <-ctx.Done():
	}
}

func (s *Server) respond(conn net.Conn, remoteAddr string) *Submission {
	if s.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	buf := make([]byte, s.config.ReadBuffer)
	n, err := conn.Read(buf)
	if n == 0 {
		if err != nil && !netutil.IsTimeout(err) {
			s.logger.Debug("Empty read", zap.String("remote_addr", remoteAddr), zap.Error(err))
		}
		return nil
	}
	logging.LogRawBytes(s.logger, "portal request", buf[:n])

	req, err := ParseRequest(buf[:n])
	if err != nil {
		s.logger.Debug("Unparsable request, serving portal page",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		s.servePage(conn, remoteAddr)
		return nil
	}
	logging.LogHTTPRequest(s.logger, remoteAddr, req.Method, req.Path, len(req.Body))

	if req.Method != http.MethodPost || req.Path != s.config.SubmitPath {
		s.servePage(conn, remoteAddr)
		return nil
	}

	form := ParseForm(string(req.Body))
	creds := credentials.Credentials{SSID: form["ssid"], Password: form["password"]}
	s.persist(creds, remoteAddr)

	metrics.PortalRequests.WithLabelValues("submit").Inc()
	s.write(conn, remoteAddr, http.StatusOK, "text/plain", []byte(AckText))

	return &Submission{
		Credentials: creds,
		RemoteAddr:  remoteAddr,
		ReceivedAt:  time.Now(),
	}
}

func (s *Server) persist(creds credentials.Credentials, remoteAddr string) {
	if !creds.Valid() {
		s.logger.Info("Submission incomplete, not saving",
			zap.String("remote_addr", remoteAddr),
			zap.Bool("has_ssid", creds.SSID != ""),
			zap.Bool("has_password", creds.Password != ""),
		)
		return
	}
	if s.store == nil {
		return
	}
	if err := s.store.Save(creds); err != nil {
		s.logger.Error("Failed to save credentials",
			zap.String("path", s.store.Path()),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Credentials saved",
		zap.String("ssid", creds.SSID),
		logging.Secret("password", creds.Password),
		zap.String("path", s.store.Path()),
	)
}

func (s *Server) servePage(conn net.Conn, remoteAddr string) {
	html, err := s.page.Load()
	if err != nil {
		s.logger.Error("Failed to load portal page", zap.Error(err))
		metrics.PortalRequests.WithLabelValues("error").Inc()
		s.write(conn, remoteAddr, http.StatusInternalServerError, "text/plain", []byte(PageErrorText))
		return
	}
	metrics.PortalRequests.WithLabelValues("page").Inc()
	s.write(conn, remoteAddr, http.StatusOK, "text/html", html)
}

func (s *Server) write(conn net.Conn, remoteAddr string, status int, contentType string, body []byte) {
	if err := WriteResponse(conn, status, contentType, body); err != nil {
		s.logger.Warn("Failed to write response",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		return
	}
	logging.LogHTTPResponse(s.logger, remoteAddr, status, len(body))
}

// WriteResponse writes a complete HTTP/1.1 response with Content-Length and
// Connection: close.
func WriteResponse(w io.Writer, status int, contentType string, body []byte) error {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n")
	buf.WriteString("Content-Type: " + contentType + "\r\n")
	buf.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	buf.WriteString("Connection: close\r\n\r\n")
	buf.Write(body)

	_, err := w.Write(buf.Bytes())
	return err
}
