package radio

import (
	"fmt"

	"go.uber.org/zap"
)

// Driver names accepted by NewDriver.
const (
	DriverLinux = "linux"
	DriverSim   = "sim"
)

// LinuxConfig configures the hostapd/wpa_supplicant driver.
type LinuxConfig struct {
	APInterface       string
	StationInterface  string
	WorkDir           string // Generated configs and control sockets
	HostapdPath       string
	WPASupplicantPath string
	WPACLIPath        string
	DHCPClient        []string // Optional command started after a join request
}

// NewDriver returns the named driver. Simulated networks only apply to the
// sim driver.
func NewDriver(name string, cfg LinuxConfig, simNetworks map[string]string, logger *zap.Logger) (Driver, error) {
	switch name {
	case DriverSim:
		return NewSimDriver(simNetworks), nil
	case DriverLinux:
		return newLinuxDriver(cfg, logger)
	default:
		return nil, &Error{Kind: KindConfig, Message: fmt.Sprintf("unknown radio driver %q", name)}
	}
}
