package dhcplease

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	dhcp "github.com/krolaw/dhcp4"
	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/logging"
	"github.com/muurk/provisiond/internal/metrics"
)

// PoolConfig describes the address pool served on the AP subnet.
type PoolConfig struct {
	Prefix        netip.Prefix // Portal address and subnet, e.g. 192.168.4.1/24
	Offset        int          // Host number of the first leased address
	Size          int
	LeaseDuration time.Duration
}

// DefaultPoolConfig matches the default AP address.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Prefix:        netip.MustParsePrefix("192.168.4.1/24"),
		Offset:        2,
		Size:          50,
		LeaseDuration: time.Hour,
	}
}

type lease struct {
	hwaddr   string
	name     string
	expires  time.Time
	assigned bool
	declined bool // In use by an unknown host; kept out of the pool until expiry
}

// Lease is a snapshot of one granted address.
type Lease struct {
	HardwareAddr string
	IP           netip.Addr
	Name         string
	Expires      time.Time
}

// Handler implements dhcp.Handler for the AP subnet.
type Handler struct {
	serverIP   net.IP
	rangeStart net.IP
	rangeEnd   net.IP
	rangeSize  int
	duration   time.Duration
	options    dhcp.Options
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	leases []lease
}

// NewHandler builds a handler leasing config.Size addresses starting at
// host number config.Offset of the subnet.
func NewHandler(config PoolConfig, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if !config.Prefix.Addr().Is4() {
		return nil, fmt.Errorf("dhcp pool %s is not IPv4", config.Prefix)
	}
	if config.Size <= 0 || config.Offset <= 0 {
		return nil, errors.New("dhcp pool offset and size must be positive")
	}
	hosts := 1<<(32-config.Prefix.Bits()) - 2
	if config.Offset+config.Size-1 > hosts {
		return nil, fmt.Errorf("dhcp pool %d+%d does not fit in %s", config.Offset, config.Size, config.Prefix.Masked())
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = time.Hour
	}

	serverIP := net.IP(config.Prefix.Addr().AsSlice())
	network := net.IP(config.Prefix.Masked().Addr().AsSlice())
	start := dhcp.IPAdd(network, config.Offset)
	mask := net.CIDRMask(config.Prefix.Bits(), 32)

	return &Handler{
		serverIP:   serverIP,
		rangeStart: start,
		rangeEnd:   dhcp.IPAdd(start, config.Size-1),
		rangeSize:  config.Size,
		duration:   config.LeaseDuration,
		options: dhcp.Options{
			dhcp.OptionSubnetMask:       []byte(mask),
			dhcp.OptionRouter:           []byte(serverIP),
			dhcp.OptionDomainNameServer: []byte(serverIP),
		},
		logger: logger,
		now:    time.Now,
		leases: make([]lease, config.Size),
	}, nil
}

// ServerIP returns the address the handler identifies itself with.
func (h *Handler) ServerIP() net.IP {
	return h.serverIP
}

// Leases returns the addresses currently assigned.
func (h *Handler) Leases() []Lease {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	var out []Lease
	for i, l := range h.leases {
		if !l.assigned || l.declined || l.expires.Before(now) {
			continue
		}
		ip, _ := netip.AddrFromSlice(dhcp.IPAdd(h.rangeStart, i).To4())
		out = append(out, Lease{HardwareAddr: l.hwaddr, IP: ip, Name: l.name, Expires: l.expires})
	}
	return out
}

// ServeDHCP answers one request.
func (h *Handler) ServeDHCP(p dhcp.Packet, msgType dhcp.MessageType, options dhcp.Options) dhcp.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msgType {
	case dhcp.Discover:
		return h.discover(p, options)
	case dhcp.Request:
		return h.request(p, options)
	case dhcp.Release:
		h.release(p)
	case dhcp.Decline:
		h.decline(p, options)
	}
	return nil
}

func (h *Handler) nak(p dhcp.Packet) dhcp.Packet {
	return dhcp.ReplyPacket(p, dhcp.NAK, h.serverIP, nil, 0, nil)
}

func (h *Handler) reply(p dhcp.Packet, msgType dhcp.MessageType, ip net.IP, options dhcp.Options) dhcp.Packet {
	return dhcp.ReplyPacket(p, msgType, h.serverIP, ip, h.duration,
		h.options.SelectOrderOrAll(options[dhcp.OptionParameterRequestList]))
}

func (h *Handler) discover(p dhcp.Packet, options dhcp.Options) dhcp.Packet {
	hwaddr := p.CHAddr().String()

	slot := h.leaseSearch(hwaddr)
	if slot < 0 {
		slot = h.freeLease()
	}
	if slot < 0 {
		h.logger.Warn("DHCP pool exhausted", zap.String("hwaddr", hwaddr))
		return h.nak(p)
	}

	// Hold the address for the offer; a REQUEST confirms it.
	h.leases[slot] = lease{hwaddr: hwaddr, expires: h.now().Add(h.duration), assigned: true}
	ip := dhcp.IPAdd(h.rangeStart, slot)
	h.logger.Debug("DHCP offer", zap.String("hwaddr", hwaddr), zap.Stringer("ip", ip))
	return h.reply(p, dhcp.Offer, ip, options)
}

func (h *Handler) request(p dhcp.Packet, options dhcp.Options) dhcp.Packet {
	hwaddr := p.CHAddr().String()

	if server, ok := options[dhcp.OptionServerIdentifier]; ok && !net.IP(server).Equal(h.serverIP) {
		return nil // Addressed to another server
	}

	var reqIP net.IP
	if current := h.leaseSearch(hwaddr); current >= 0 {
		reqIP = dhcp.IPAdd(h.rangeStart, current)
	} else if requested := options[dhcp.OptionRequestedIPAddress]; len(requested) == 4 {
		reqIP = net.IP(requested)
	} else {
		reqIP = net.IP(p.CIAddr())
	}

	if len(reqIP.To4()) != 4 || reqIP.Equal(net.IPv4zero) {
		h.logger.Debug("DHCP request without address", zap.String("hwaddr", hwaddr))
		return h.nak(p)
	}

	slot := h.slot(reqIP)
	if slot < 0 {
		h.logger.Debug("DHCP request outside pool", zap.String("hwaddr", hwaddr), zap.Stringer("ip", reqIP))
		return h.nak(p)
	}
	if l := h.leases[slot]; l.assigned && l.hwaddr != hwaddr && !l.expires.Before(h.now()) {
		h.logger.Debug("DHCP request for leased address", zap.String("hwaddr", hwaddr), zap.Stringer("ip", reqIP))
		return h.nak(p)
	}

	h.leases[slot] = lease{
		hwaddr:   hwaddr,
		name:     string(options[dhcp.OptionHostName]),
		expires:  h.now().Add(h.duration),
		assigned: true,
	}
	metrics.DHCPLeases.Inc()
	h.logger.Info("DHCP lease granted",
		zap.String("hwaddr", hwaddr),
		zap.Stringer("ip", reqIP),
		zap.String("name", h.leases[slot].name),
	)
	return h.reply(p, dhcp.ACK, reqIP, options)
}

func (h *Handler) release(p dhcp.Packet) {
	hwaddr := p.CHAddr().String()
	if slot := h.leaseSearch(hwaddr); slot >= 0 {
		h.leases[slot] = lease{}
		h.logger.Debug("DHCP lease released", zap.String("hwaddr", hwaddr))
	}
}

// decline quarantines the address the client found already in use, so it
// is not offered again before the lease duration has passed.
func (h *Handler) decline(p dhcp.Packet, options dhcp.Options) {
	hwaddr := p.CHAddr().String()
	slot := h.leaseSearch(hwaddr)
	if slot < 0 {
		if requested := options[dhcp.OptionRequestedIPAddress]; len(requested) == 4 {
			slot = h.slot(net.IP(requested))
		}
	}
	if slot < 0 {
		return
	}
	h.leases[slot] = lease{expires: h.now().Add(h.duration), assigned: true, declined: true}
	h.logger.Warn("DHCP address declined, holding it back",
		zap.String("hwaddr", hwaddr),
		zap.Stringer("ip", dhcp.IPAdd(h.rangeStart, slot)),
	)
}

// leaseSearch returns the live slot held by hwaddr, or -1.
func (h *Handler) leaseSearch(hwaddr string) int {
	now := h.now()
	for i, l := range h.leases {
		if l.assigned && l.hwaddr == hwaddr && !l.expires.Before(now) {
			return i
		}
	}
	return -1
}

// freeLease returns the lowest unassigned or expired slot, or -1.
func (h *Handler) freeLease() int {
	now := h.now()
	for i, l := range h.leases {
		if !l.assigned || l.expires.Before(now) {
			return i
		}
	}
	return -1
}

func (h *Handler) slot(ip net.IP) int {
	if ip = ip.To4(); ip == nil || !dhcp.IPInRange(h.rangeStart, h.rangeEnd, ip) {
		return -1
	}
	slot := dhcp.IPRange(h.rangeStart, ip) - 1
	if slot < 0 || slot >= h.rangeSize {
		return -1
	}
	return slot
}
