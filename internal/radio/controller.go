package radio

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/muurk/provisiond/internal/logging"
)

// ErrNotReady is returned by the readiness probe while the AP is coming up.
var ErrNotReady = errors.New("access point not active yet")

// Config holds the controller configuration.
type Config struct {
	APInterface       string
	APAddress         netip.Prefix
	APChannel         int
	ActivationTimeout time.Duration // Upper bound on waiting for the AP to report active
	SettleDelay       time.Duration // Pause after deactivating both roles before a join
	PollInterval      time.Duration // Station status poll period
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APInterface:       "wlan0",
		APAddress:         netip.MustParsePrefix("192.168.4.1/24"),
		APChannel:         6,
		ActivationTimeout: 15 * time.Second,
		SettleDelay:       500 * time.Millisecond,
		PollInterval:      500 * time.Millisecond,
	}
}

// Status is a snapshot of the controller's view of the radio.
type Status struct {
	APActive       bool
	StationActive  bool
	StationSSID    string
	StationAddress netip.Addr
}

// Controller owns the radio and serialises every role change, so the AP
// and station roles are never active together. It implements both the
// access point controller and the station connector.
type Controller struct {
	driver Driver
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	status  Status
	network NetworkConfig
}

// NewController wraps driver.
func NewController(driver Driver, config Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = logging.GetLogger()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.ActivationTimeout <= 0 {
		config.ActivationTimeout = 15 * time.Second
	}
	return &Controller{driver: driver, config: config, logger: logger}
}

// Status returns the current radio state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StartAP activates the access point with WPA2-PSK and blocks until the
// driver reports it active. A station session is torn down first. When the
// AP is already up its existing configuration is returned.
func (c *Controller) StartAP(ctx context.Context, ssid, secret string) (NetworkConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.APActive {
		return c.network, nil
	}
	if err := c.stopStationLocked(ctx); err != nil {
		return NetworkConfig{}, err
	}

	settings := APSettings{
		Interface: c.config.APInterface,
		SSID:      ssid,
		Secret:    secret,
		Address:   c.config.APAddress,
		Channel:   c.config.APChannel,
	}

	c.logger.Info("Activating access point",
		zap.String("ssid", ssid),
		logging.Secret("secret", secret),
		zap.String("interface", settings.Interface),
		zap.String("address", settings.Address.String()),
	)

	if err := c.driver.ActivateAP(ctx, settings); err != nil {
		return NetworkConfig{}, &Error{Kind: KindActivation, Role: RoleAP, Message: "failed to activate access point", Err: err}
	}

	if err := c.waitReady(ctx); err != nil {
		if derr := c.driver.DeactivateAP(context.WithoutCancel(ctx)); derr != nil {
			c.logger.Warn("Failed to deactivate access point after failed start", zap.Error(derr))
			// Still up as far as we know; StopAP and Connect must retry.
			c.status.APActive = true
		}
		return NetworkConfig{}, &Error{Kind: KindActivation, Role: RoleAP, Message: "access point did not become active", Err: err}
	}

	c.status.APActive = true
	c.network = NetworkConfig{
		Interface: settings.Interface,
		Address:   settings.Address.Addr(),
		Subnet:    settings.Address.Masked(),
		Gateway:   settings.Address.Addr(),
	}
	c.logger.Info("Access point active",
		zap.String("address", c.network.Address.String()),
		zap.String("subnet", c.network.Subnet.String()),
	)
	return c.network, nil
}

// waitReady polls the driver with exponential backoff until the AP is up
// or the activation timeout elapses.
func (c *Controller) waitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = c.config.ActivationTimeout

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		ready, err := c.driver.APReady(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return ErrNotReady
		}
		return nil
	}, backoff.WithContext(b, ctx))

	c.logger.Debug("Access point readiness wait finished",
		zap.Int("polls", attempts),
		zap.Error(err),
	)
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// StopAP deactivates the access point. Stopping an inactive AP is a no-op.
func (c *Controller) StopAP(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopAPLocked(ctx)
}

func (c *Controller) stopAPLocked(ctx context.Context) error {
	if !c.status.APActive {
		return nil
	}
	if err := c.driver.DeactivateAP(ctx); err != nil {
		return &Error{Kind: KindDeactivation, Role: RoleAP, Message: "failed to deactivate access point", Err: err}
	}
	c.status.APActive = false
	c.network = NetworkConfig{}
	c.logger.Info("Access point stopped")
	return nil
}

func (c *Controller) stopStationLocked(ctx context.Context) error {
	if !c.status.StationActive {
		return nil
	}
	if err := c.driver.Disconnect(ctx); err != nil {
		c.logger.Debug("Station disconnect failed", zap.Error(err))
	}
	if err := c.driver.DeactivateStation(ctx); err != nil {
		return &Error{Kind: KindDeactivation, Role: RoleStation, Message: "failed to deactivate station", Err: err}
	}
	c.status.StationActive = false
	c.status.StationSSID = ""
	c.status.StationAddress = netip.Addr{}
	return nil
}

// Connect joins ssid in station mode. Both roles are deactivated and the
// radio allowed to settle before the station is activated. If the AP cannot
// be stopped the station is never activated and the KindDeactivation error
// is returned. It reports true
// once associated with an IPv4 address, or false after timeout, in which
// case the join is explicitly abandoned. Errors are reserved for driver
// failures and cancellation.
func (c *Controller) Connect(ctx context.Context, ssid, secret string, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Connecting to network", zap.String("ssid", ssid), zap.Duration("timeout", timeout))

	if err := c.stopAPLocked(ctx); err != nil {
		return false, err
	}
	if err := c.stopStationLocked(ctx); err != nil {
		return false, err
	}
	if err := sleep(ctx, c.config.SettleDelay); err != nil {
		return false, err
	}

	if err := c.driver.ActivateStation(ctx); err != nil {
		return false, &Error{Kind: KindActivation, Role: RoleStation, Message: "failed to activate station", Err: err}
	}
	c.status.StationActive = true

	if err := c.driver.Join(ctx, ssid, secret); err != nil {
		c.abandonLocked()
		return false, &Error{Kind: KindJoin, Role: RoleStation, Message: fmt.Sprintf("join request for %q rejected", ssid), Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		st, err := c.driver.StationStatus(ctx)
		if err != nil {
			c.logger.Debug("Station status poll failed", zap.Error(err))
		} else if st.Connected() {
			c.status.StationSSID = ssid
			c.status.StationAddress = st.Address
			c.logger.Info("Connected", zap.String("ssid", ssid), zap.String("address", st.Address.String()))
			return true, nil
		}

		if !time.Now().Before(deadline) {
			break
		}
		if err := sleep(ctx, min(c.config.PollInterval, time.Until(deadline))); err != nil {
			c.abandonLocked()
			return false, err
		}
	}

	c.logger.Warn("Connection attempt timed out", zap.String("ssid", ssid))
	c.abandonLocked()
	return false, nil
}

// abandonLocked drops an unfinished join. The station stays active.
func (c *Controller) abandonLocked() {
	if err := c.driver.Disconnect(context.Background()); err != nil {
		c.logger.Debug("Station disconnect failed", zap.Error(err))
	}
}

// Shutdown deactivates whichever role is active.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.stopAPLocked(ctx), c.stopStationLocked(ctx))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
