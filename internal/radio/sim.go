package radio

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// SimDriver is an in-memory radio for development and tests. Networks it
// can join are configured as ssid to secret. It records every role change
// and counts any moment both roles were active.
type SimDriver struct {
	mu       sync.Mutex
	networks map[string]string

	apActive  bool
	staActive bool
	apReadyIn int // APReady polls remaining before the AP reports active
	joining   string
	joinedOK  bool
	address   netip.Addr

	// ReadyAfter is how many APReady polls report false after activation.
	ReadyAfter int
	// FailAP makes ActivateAP fail.
	FailAP bool
	// FailStation makes ActivateStation fail.
	FailStation bool
	// FailDeactivateAP makes DeactivateAP fail and leaves the AP up.
	FailDeactivateAP bool
	// StationAddress is handed out on a successful join.
	StationAddress netip.Addr

	history    []string
	violations int
	lastAP     APSettings
}

// NewSimDriver returns a driver that can join the given networks.
func NewSimDriver(networks map[string]string) *SimDriver {
	n := make(map[string]string, len(networks))
	for k, v := range networks {
		n[k] = v
	}
	return &SimDriver{
		networks:       n,
		StationAddress: netip.MustParseAddr("10.0.0.23"),
	}
}

// AddNetwork makes ssid joinable with secret.
func (d *SimDriver) AddNetwork(ssid, secret string) {
	d.mu.Lock()
	d.networks[ssid] = secret
	d.mu.Unlock()
}

func (d *SimDriver) record(event string) {
	d.history = append(d.history, event)
	if d.apActive && d.staActive {
		d.violations++
	}
}

func (d *SimDriver) ActivateAP(_ context.Context, settings APSettings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailAP {
		return errors.New("simulated ap activation failure")
	}
	d.apActive = true
	d.apReadyIn = d.ReadyAfter
	d.lastAP = settings
	d.record("ap:on")
	return nil
}

func (d *SimDriver) APReady(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.apActive {
		return false, errors.New("access point is off")
	}
	if d.apReadyIn > 0 {
		d.apReadyIn--
		return false, nil
	}
	return true, nil
}

func (d *SimDriver) DeactivateAP(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailDeactivateAP {
		return errors.New("simulated hostapd did not exit")
	}
	d.apActive = false
	d.record("ap:off")
	return nil
}

func (d *SimDriver) ActivateStation(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailStation {
		return errors.New("simulated station activation failure")
	}
	d.staActive = true
	d.record("sta:on")
	return nil
}

func (d *SimDriver) Join(_ context.Context, ssid, secret string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.staActive {
		return errors.New("station is off")
	}
	d.joining = ssid
	want, ok := d.networks[ssid]
	d.joinedOK = ok && want == secret
	d.record(fmt.Sprintf("sta:join %s", ssid))
	return nil
}

func (d *SimDriver) StationStatus(context.Context) (StationStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.staActive || d.joining == "" || !d.joinedOK {
		return StationStatus{}, nil
	}
	d.address = d.StationAddress
	return StationStatus{Associated: true, SSID: d.joining, Address: d.address}, nil
}

func (d *SimDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joining = ""
	d.joinedOK = false
	d.address = netip.Addr{}
	d.record("sta:disconnect")
	return nil
}

func (d *SimDriver) DeactivateStation(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staActive = false
	d.joining = ""
	d.joinedOK = false
	d.record("sta:off")
	return nil
}

// Active reports which roles are currently on.
func (d *SimDriver) Active() (ap, station bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apActive, d.staActive
}

// Violations counts events after which both roles were active.
func (d *SimDriver) Violations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.violations
}

// History returns the recorded role changes in order.
func (d *SimDriver) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.history...)
}

// LastAP returns the settings of the most recent AP activation.
func (d *SimDriver) LastAP() APSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAP
}
