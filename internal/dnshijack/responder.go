package dnshijack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/logging"
	"github.com/muurk/provisiond/internal/metrics"
)

// Config configures a Responder.
type Config struct {
	Host            string     // Bind address, empty for all interfaces
	Port            int        // UDP port, 53 in production and 0 in tests
	PortalIP        netip.Addr // Address every query is answered with
	MemoryThreshold uint64     // Skip a cycle when headroom falls below this
	MaxPacketSize   int        // Larger packets are dropped
	TTL             uint32
	ReadTimeout     time.Duration // Bounds each blocking read so cancellation is seen
	LowMemoryPause  time.Duration
	AnswerPause     time.Duration
}

// DefaultConfig returns the production responder settings.
func DefaultConfig() *Config {
	return &Config{
		Port:            53,
		PortalIP:        netip.AddrFrom4([4]byte{192, 168, 4, 1}),
		MemoryThreshold: 8000,
		MaxPacketSize:   512,
		TTL:             60,
		ReadTimeout:     time.Second,
		LowMemoryPause:  50 * time.Millisecond,
		AnswerPause:     10 * time.Millisecond,
	}
}

// Responder answers every DNS query on its socket with the portal address.
type Responder struct {
	config   *Config
	logger   *zap.Logger
	headroom Headroom

	mu   sync.Mutex
	conn net.PacketConn
}

// New creates a responder. The portal address must be IPv4.
func New(config *Config, logger *zap.Logger) (*Responder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.PortalIP.Is4() {
		return nil, fmt.Errorf("portal address %s is not IPv4", config.PortalIP)
	}
	if config.MaxPacketSize < HeaderSize {
		return nil, fmt.Errorf("max packet size %d is smaller than a DNS header", config.MaxPacketSize)
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = time.Second
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Responder{
		config:   config,
		logger:   logger,
		headroom: &SystemHeadroom{},
	}, nil
}

// SetHeadroom replaces the memory headroom source.
func (r *Responder) SetHeadroom(h Headroom) {
	r.headroom = h
}

// Listen binds the UDP socket.
func (r *Responder) Listen() error {
	addr := net.JoinHostPort(r.config.Host, strconv.Itoa(r.config.Port))
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind dns socket %s: %w", addr, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.logger.Info("DNS hijack responder listening",
		zap.String("addr", conn.LocalAddr().String()),
		zap.String("portal_ip", r.config.PortalIP.String()),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run binds the socket and serves until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Serve runs the responder loop until ctx is cancelled, then closes the
// socket. Socket errors are logged and the loop continues.
func (r *Responder) Serve(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("dns responder is not listening")
	}
	defer func() {
		_ = conn.Close()
		r.logger.Info("DNS hijack responder stopped")
	}()

	// One spare byte so oversized datagrams are seen rather than truncated.
	buf := make([]byte, r.config.MaxPacketSize+1)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if r.config.MemoryThreshold > 0 {
			if avail := r.headroom.Available(); avail < r.config.MemoryThreshold {
				metrics.DNSSkipped.WithLabelValues("low_memory").Inc()
				r.logger.Debug("Low memory, skipping cycle", zap.Uint64("available", avail))
				pause(ctx, r.config.LowMemoryPause)
				continue
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			r.logger.Warn("DNS read failed", zap.Error(err))
			continue
		}

		if r.answer(conn, buf[:n], addr) {
			pause(ctx, r.config.AnswerPause)
		}
	}
}

// answer handles one datagram and reports whether a response was sent.
func (r *Responder) answer(conn net.PacketConn, packet []byte, addr net.Addr) bool {
	if len(packet) > r.config.MaxPacketSize {
		metrics.DNSDropped.WithLabelValues("oversize").Inc()
		r.logger.Debug("Oversized packet dropped",
			zap.String("remote_addr", addr.String()),
			zap.Int("length", len(packet)),
		)
		return false
	}

	q, err := ParseQuery(packet)
	if err != nil {
		metrics.DNSDropped.WithLabelValues("malformed").Inc()
		r.logger.Debug("Malformed packet dropped",
			zap.String("remote_addr", addr.String()),
			zap.Error(err),
		)
		logging.LogRawBytes(r.logger, "dropped dns packet", packet)
		return false
	}

	if ce := r.logger.Check(zap.DebugLevel, "Hijacking query"); ce != nil {
		ce.Write(
			zap.String("remote_addr", addr.String()),
			zap.Uint16("id", q.ID),
			zap.String("name", questionName(packet)),
		)
	}

	resp := BuildResponse(q, r.config.PortalIP, r.config.TTL)
	if _, err := conn.WriteTo(resp, addr); err != nil {
		r.logger.Warn("DNS write failed",
			zap.String("remote_addr", addr.String()),
			zap.Error(err),
		)
		return false
	}
	metrics.DNSAnswered.Inc()
	return true
}

// questionName decodes the first queried name for logging only.
func questionName(packet []byte) string {
	var m dns.Msg
	if err := m.Unpack(packet); err != nil || len(m.Question) == 0 {
		return "?"
	}
	return m.Question[0].Name
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
