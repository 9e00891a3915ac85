package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/confirm"
	"github.com/muurk/provisiond/internal/credentials"
	"github.com/muurk/provisiond/internal/dhcplease"
	"github.com/muurk/provisiond/internal/discovery"
	"github.com/muurk/provisiond/internal/dnshijack"
	"github.com/muurk/provisiond/internal/logging"
	"github.com/muurk/provisiond/internal/metrics"
	"github.com/muurk/provisiond/internal/portal"
	"github.com/muurk/provisiond/internal/radio"
	"github.com/muurk/provisiond/internal/task"
)

// ErrAttemptsExhausted is returned by Run once MaxAttempts portal joins
// have failed.
var ErrAttemptsExhausted = errors.New("provisioning attempts exhausted")

// Radio is the part of radio.Controller the machine drives.
type Radio interface {
	StartAP(ctx context.Context, ssid, secret string) (radio.NetworkConfig, error)
	StopAP(ctx context.Context) error
	Connect(ctx context.Context, ssid, secret string, timeout time.Duration) (bool, error)
}

// Config holds the machine configuration. The server sections are copied
// on every portal entry; PortalIP and the DHCP pool prefix are taken from
// the AP network once it is up.
type Config struct {
	APSSID         string
	APSecret       string
	ConnectTimeout time.Duration
	MaxAttempts    int // 0 is unbounded

	DNS      dnshijack.Config
	Headroom dnshijack.Headroom // nil uses system memory
	Portal   portal.Config
	Page     portal.Page

	DHCPEnabled bool
	DHCP        dhcplease.Config
	Pool        dhcplease.PoolConfig

	Confirm     confirm.Config
	Advertise   bool
	ServiceName string
	Version     string
}

// DefaultConfig returns the production machine settings.
func DefaultConfig() *Config {
	return &Config{
		APSSID:         "ESP32_LAB",
		APSecret:       "hacktheplanet",
		ConnectTimeout: 10 * time.Second,
		DNS:            *dnshijack.DefaultConfig(),
		Portal:         *portal.DefaultConfig(),
		DHCPEnabled:    true,
		DHCP:           *dhcplease.DefaultConfig(),
		Pool:           dhcplease.DefaultPoolConfig(),
		Confirm:        *confirm.DefaultConfig(),
		Advertise:      true,
		ServiceName:    "provisiond",
	}
}

// Endpoints are the addresses of the servers currently running. Fields
// are nil or zero while the matching server is down.
type Endpoints struct {
	DNS         net.Addr
	Portal      net.Addr
	DHCP        net.Addr
	ConfirmPort int
}

// Machine is the provisioning state machine.
type Machine struct {
	config *Config
	radio  Radio
	store  *credentials.Store
	logger *zap.Logger

	// OnTransition, when set before Run, is called on the machine
	// goroutine after every state change.
	OnTransition func(Transition)

	mu        sync.Mutex
	session   Session
	endpoints Endpoints
	running   bool
}

// New creates a machine. store may be nil, in which case nothing is loaded
// or persisted.
func New(config *Config, r Radio, store *credentials.Store, logger *zap.Logger) *Machine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Machine{
		config:  config,
		radio:   r,
		store:   store,
		logger:  logger,
		session: Session{State: StateTryingSaved},
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// Session returns a snapshot of the current session.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Endpoints returns the addresses of the running servers.
func (m *Machine) Endpoints() Endpoints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints
}

// Run drives provisioning until ctx is cancelled, which returns nil. It
// returns early with a fatal radio error, a server failure, or
// ErrAttemptsExhausted.
func (m *Machine) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("provisioning machine already running")
	}
	m.running = true
	m.session = Session{State: StateTryingSaved, EnteredAt: time.Now()}
	m.mu.Unlock()

	metrics.SetState(StateTryingSaved.String(), stateNames())
	m.logger.Info("Provisioning started", zap.String("state", StateTryingSaved.String()))

	err := m.run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		m.logger.Info("Provisioning stopped", zap.String("state", m.State().String()))
		return nil
	}
	return err
}

func (m *Machine) run(ctx context.Context) error {
	if creds, ok := m.loadSaved(); ok {
		m.setTarget(creds.SSID)
		joined, err := m.connect(ctx, creds)
		if err != nil {
			return err
		}
		if joined {
			if err := m.transition(StateConnected, "joined with saved credentials"); err != nil {
				return err
			}
			return m.serveConfirmation(ctx)
		}
		if err := m.transition(StateAPPortal, "saved credentials failed"); err != nil {
			return err
		}
	} else if err := m.transition(StateAPPortal, "no saved credentials"); err != nil {
		return err
	}

	for {
		creds, err := m.runPortal(ctx)
		if err != nil {
			return err
		}

		joined, err := m.connect(ctx, creds)
		if err != nil {
			return err
		}
		if joined {
			if err := m.transition(StateConnected, "joined with submitted credentials"); err != nil {
				return err
			}
			return m.serveConfirmation(ctx)
		}

		m.mu.Lock()
		m.session.Failures++
		failures := m.session.Failures
		m.mu.Unlock()

		if limit := m.config.MaxAttempts; limit > 0 && failures >= limit {
			m.logger.Error("Giving up on provisioning", zap.Int("failures", failures))
			return fmt.Errorf("%w after %d failed joins", ErrAttemptsExhausted, failures)
		}
		if err := m.transition(StateAPPortal, "join failed"); err != nil {
			return err
		}
	}
}

func (m *Machine) loadSaved() (credentials.Credentials, bool) {
	if m.store == nil {
		return credentials.Credentials{}, false
	}
	creds, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, credentials.ErrNotFound) {
			m.logger.Warn("Failed to read saved credentials", zap.String("path", m.store.Path()), zap.Error(err))
		} else {
			m.logger.Info("No saved credentials", zap.String("path", m.store.Path()))
		}
		return credentials.Credentials{}, false
	}
	m.logger.Info("Trying saved credentials", zap.String("ssid", creds.SSID))
	return creds, true
}

// connect makes one join attempt. Only fatal radio errors and cancellation
// are returned; every other failure reports false.
func (m *Machine) connect(ctx context.Context, creds credentials.Credentials) (bool, error) {
	joined, err := m.radio.Connect(ctx, creds.SSID, creds.Password, m.config.ConnectTimeout)
	switch {
	case err == nil && joined:
		metrics.ConnectAttempts.WithLabelValues("success").Inc()
		return true, nil
	case err == nil:
		metrics.ConnectAttempts.WithLabelValues("timeout").Inc()
		m.recordError(fmt.Sprintf("join of %q timed out", creds.SSID))
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case isFatal(err):
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		m.logger.Error("Radio failure", zap.Error(err))
		return false, err
	default:
		metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		m.logger.Warn("Join attempt failed", zap.String("ssid", creds.SSID), zap.Error(err))
		m.recordError(err.Error())
		return false, nil
	}
}

func isFatal(err error) bool {
	var rerr *radio.Error
	return errors.As(err, &rerr) && rerr.Fatal()
}

// portalSession is one AP raise with its servers.
type portalSession struct {
	group   task.Group
	handles []*task.Handle
	portal  *portal.Server
}

func (p *portalSession) start(ctx context.Context, name string, fn task.Func) *task.Handle {
	h := task.Start(ctx, name, fn)
	p.group.Add(h)
	p.handles = append(p.handles, h)
	return h
}

// runPortal raises the AP and its servers and returns the first complete
// submission, with everything torn down again.
func (m *Machine) runPortal(ctx context.Context) (credentials.Credentials, error) {
	netcfg, err := m.radio.StartAP(ctx, m.config.APSSID, m.config.APSecret)
	if err != nil {
		return credentials.Credentials{}, err
	}

	ps, err := m.startServers(ctx, netcfg)
	if err != nil {
		m.teardown(ctx, ps)
		return credentials.Credentials{}, err
	}

	failed := make(chan *task.Handle, len(ps.handles))
	for _, h := range ps.handles {
		go func(h *task.Handle) {
			<-h.Done()
			failed <- h
		}(h)
	}

	for {
		select {
		case <-ctx.Done():
			m.teardown(ctx, ps)
			return credentials.Credentials{}, ctx.Err()

		case h := <-failed:
			err := h.Join()
			m.teardown(ctx, ps)
			if ctx.Err() != nil {
				return credentials.Credentials{}, ctx.Err()
			}
			if err == nil {
				err = errors.New("stopped unexpectedly")
			}
			return credentials.Credentials{}, fmt.Errorf("%s server: %w", h.Name(), err)

		case sub := <-ps.portal.Submissions():
			if !sub.Credentials.Valid() {
				m.logger.Info("Ignoring incomplete submission",
					zap.String("remote_addr", sub.RemoteAddr),
					zap.Bool("has_ssid", sub.Credentials.SSID != ""),
					zap.Bool("has_password", sub.Credentials.Password != ""),
				)
				continue
			}

			m.setTarget(sub.Credentials.SSID)
			m.mu.Lock()
			m.session.Attempts++
			m.mu.Unlock()
			if err := m.transition(StateConnecting, "credentials submitted"); err != nil {
				m.teardown(ctx, ps)
				return credentials.Credentials{}, err
			}
			m.teardown(ctx, ps)
			return sub.Credentials, nil
		}
	}
}

func (m *Machine) startServers(ctx context.Context, netcfg radio.NetworkConfig) (*portalSession, error) {
	ps := &portalSession{}

	dnsConfig := m.config.DNS
	dnsConfig.PortalIP = netcfg.Address
	responder, err := dnshijack.New(&dnsConfig, m.logger.Named("dns"))
	if err != nil {
		return ps, err
	}
	if m.config.Headroom != nil {
		responder.SetHeadroom(m.config.Headroom)
	}
	if err := responder.Listen(); err != nil {
		return ps, err
	}
	ps.start(ctx, "dns", responder.Serve)

	portalConfig := m.config.Portal
	ps.portal = portal.New(&portalConfig, m.config.Page, m.store, m.logger.Named("portal"))
	if err := ps.portal.Listen(); err != nil {
		return ps, err
	}
	ps.start(ctx, "http", ps.portal.Serve)

	m.mu.Lock()
	m.endpoints.DNS = responder.Addr()
	m.endpoints.Portal = ps.portal.Addr()
	m.mu.Unlock()

	if m.config.DHCPEnabled {
		m.startDHCP(ctx, ps, netcfg)
	}
	return ps, nil
}

// startDHCP runs the lease server when it can. Clients with static
// addressing still reach the portal, so a DHCP failure is not fatal.
func (m *Machine) startDHCP(ctx context.Context, ps *portalSession, netcfg radio.NetworkConfig) {
	logger := m.logger.Named("dhcp")

	pool := m.config.Pool
	pool.Prefix = netip.PrefixFrom(netcfg.Address, netcfg.Subnet.Bits())
	handler, err := dhcplease.NewHandler(pool, logger)
	if err != nil {
		logger.Warn("DHCP disabled", zap.Error(err))
		return
	}

	dhcpConfig := m.config.DHCP
	srv := dhcplease.NewServer(&dhcpConfig, handler, logger)
	if err := srv.Listen(); err != nil {
		logger.Warn("DHCP disabled", zap.Error(err))
		return
	}

	// Not tracked for failure: a dead lease server leaves the portal up.
	h := task.Start(ctx, "dhcp", func(ctx context.Context) error {
		err := srv.Serve(ctx)
		if err != nil {
			logger.Warn("DHCP server stopped", zap.Error(err))
		}
		return err
	})
	ps.group.Add(h)

	m.mu.Lock()
	m.endpoints.DHCP = srv.Addr()
	m.mu.Unlock()
}

// teardown stops and joins every server, then stops the AP, so the radio
// is free before a station is activated.
func (m *Machine) teardown(ctx context.Context, ps *portalSession) {
	if ps != nil {
		names := ps.group.Names()
		if err := ps.group.StopAll(); err != nil {
			m.logger.Warn("Server exited with error", zap.Error(err))
		}
		m.logger.Debug("Portal servers stopped", zap.Strings("servers", names))
	}

	m.mu.Lock()
	m.endpoints.DNS, m.endpoints.Portal, m.endpoints.DHCP = nil, nil, nil
	m.mu.Unlock()

	if err := m.radio.StopAP(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("Failed to stop access point", zap.Error(err))
	}
}

// serveConfirmation binds the confirmation server, advertises it and runs
// it until ctx ends.
func (m *Machine) serveConfirmation(ctx context.Context) error {
	confirmConfig := m.config.Confirm
	srv := confirm.New(&confirmConfig, m.logger.Named("confirm"))
	if err := srv.Listen(); err != nil {
		return err
	}
	port := srv.Port()

	m.mu.Lock()
	m.session.ConfirmPort = port
	m.endpoints.ConfirmPort = port
	ssid := m.session.SSID
	m.mu.Unlock()

	if err := m.transition(StateConfirmServing, "confirmation server bound"); err != nil {
		return err
	}

	if m.config.Advertise {
		adv, err := discovery.Advertise(m.config.ServiceName, port, m.config.Version, map[string]string{"ssid": ssid})
		if err != nil {
			m.logger.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			m.logger.Info("Advertising confirmation server",
				zap.String("instance", m.config.ServiceName),
				zap.Int("port", port),
			)
			defer adv.Shutdown()
		}
	}

	return srv.Serve(ctx)
}

func (m *Machine) transition(to State, reason string) error {
	m.mu.Lock()
	from := m.session.State
	if !allowedTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := time.Now()
	m.session.State = to
	m.session.EnteredAt = now
	hook := m.OnTransition
	m.mu.Unlock()

	logging.LogTransition(m.logger, from.String(), to.String(), reason)
	metrics.SetState(to.String(), stateNames())
	if hook != nil {
		hook(Transition{From: from, To: to, Reason: reason, At: now})
	}
	return nil
}

func (m *Machine) setTarget(ssid string) {
	m.mu.Lock()
	m.session.SSID = ssid
	m.mu.Unlock()
}

func (m *Machine) recordError(msg string) {
	m.mu.Lock()
	m.session.LastError = msg
	m.mu.Unlock()
}
