package config

import (
	"fmt"
	"net/netip"
	"time"
)

// Config is the complete startup configuration of the daemon.
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	AP           APConfig           `yaml:"ap"`
	DNS          DNSConfig          `yaml:"dns"`
	HTTP         HTTPConfig         `yaml:"http"`
	DHCP         DHCPConfig         `yaml:"dhcp"`
	Station      StationConfig      `yaml:"station"`
	Confirm      ConfirmConfig      `yaml:"confirm"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Radio        RadioConfig        `yaml:"radio"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// APConfig describes the provisioning access point.
type APConfig struct {
	SSID      string `yaml:"ssid"`
	Password  string `yaml:"password"`  // WPA2-PSK, 8-63 characters
	Interface string `yaml:"interface"` // Wireless interface used for AP mode
	Address   string `yaml:"address"`   // Portal address with prefix, e.g. 192.168.4.1/24
	Channel   int    `yaml:"channel"`
}

// Prefix parses Address. The address part is the portal IP.
func (a APConfig) Prefix() (netip.Prefix, error) {
	p, err := netip.ParsePrefix(a.Address)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ap.address %q: %w", a.Address, err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("ap.address %q is not IPv4", a.Address)
	}
	return p, nil
}

// PortalIP returns the address every DNS query is answered with.
func (a APConfig) PortalIP() (netip.Addr, error) {
	p, err := a.Prefix()
	if err != nil {
		return netip.Addr{}, err
	}
	return p.Addr(), nil
}

// DNSConfig tunes the hijacking responder.
type DNSConfig struct {
	Port            int           `yaml:"port"`
	MemoryThreshold uint64        `yaml:"memory_threshold"` // Minimum free bytes before skipping a cycle
	MaxPacketSize   int           `yaml:"max_packet_size"`  // Larger queries are dropped
	TTL             uint32        `yaml:"ttl"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	LowMemoryPause  time.Duration `yaml:"low_memory_pause"`
	AnswerPause     time.Duration `yaml:"answer_pause"`
}

// HTTPConfig tunes the portal server.
type HTTPConfig struct {
	Port          int           `yaml:"port"`
	Backlog       int           `yaml:"backlog"`
	ReadBuffer    int           `yaml:"read_buffer"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	SubmitPath    string        `yaml:"submit_path"`
	PagePath      string        `yaml:"page_path"` // Empty serves the built-in page
}

// DHCPConfig controls the lease server run alongside the portal.
type DHCPConfig struct {
	Enabled       bool          `yaml:"enabled"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	PoolOffset    int           `yaml:"pool_offset"` // First leased host number within the AP subnet
	PoolSize      int           `yaml:"pool_size"`
}

// StationConfig controls join attempts in client mode.
type StationConfig struct {
	Interface      string        `yaml:"interface"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
}

// ConfirmConfig controls the post-join confirmation server.
type ConfirmConfig struct {
	Host          string `yaml:"host"`
	PreferredPort int    `yaml:"preferred_port"`
	FallbackPort  int    `yaml:"fallback_port"`
	PagePath      string `yaml:"page_path"`
	Advertise     bool   `yaml:"advertise"`
	ServiceName   string `yaml:"service_name"`
}

// CredentialsConfig locates the credential file.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// ProvisioningConfig holds policy for the state machine.
type ProvisioningConfig struct {
	// MaxAttempts bounds failed join attempts from the portal. 0 is unbounded.
	MaxAttempts int `yaml:"max_attempts"`
}

// RadioConfig selects and configures the radio driver.
type RadioConfig struct {
	Driver            string            `yaml:"driver"` // "linux" or "sim"
	ActivationTimeout time.Duration     `yaml:"activation_timeout"`
	WorkDir           string            `yaml:"work_dir"`
	HostapdPath       string            `yaml:"hostapd_path"`
	WPASupplicantPath string            `yaml:"wpa_supplicant_path"`
	WPACLIPath        string            `yaml:"wpa_cli_path"`
	DHCPClient        []string          `yaml:"dhcp_client,omitempty"`  // e.g. [udhcpc, -i, wlan0, -q]
	SimNetworks       map[string]string `yaml:"sim_networks,omitempty"` // ssid -> secret joinable by the sim driver
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		AP: APConfig{
			SSID:      "ESP32_LAB",
			Password:  "hacktheplanet",
			Interface: "wlan0",
			Address:   "192.168.4.1/24",
			Channel:   6,
		},
		DNS: DNSConfig{
			Port:            53,
			MemoryThreshold: 8000,
			MaxPacketSize:   512,
			TTL:             60,
			ReadTimeout:     time.Second,
			LowMemoryPause:  50 * time.Millisecond,
			AnswerPause:     10 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Port:          80,
			Backlog:       5,
			ReadBuffer:    1024,
			AcceptTimeout: 5 * time.Second,
			ReadTimeout:   5 * time.Second,
			SubmitPath:    "/provision",
		},
		DHCP: DHCPConfig{
			Enabled:       true,
			LeaseDuration: time.Hour,
			PoolOffset:    2,
			PoolSize:      50,
		},
		Station: StationConfig{
			Interface:      "wlan0",
			ConnectTimeout: 10 * time.Second,
			PollInterval:   500 * time.Millisecond,
			SettleDelay:    500 * time.Millisecond,
		},
		Confirm: ConfirmConfig{
			PreferredPort: 80,
			FallbackPort:  8080,
			Advertise:     true,
			ServiceName:   "provisiond",
		},
		Credentials: CredentialsConfig{
			Path: "wifi_credentials.txt",
		},
		Radio: RadioConfig{
			Driver:            "linux",
			ActivationTimeout: 15 * time.Second,
			WorkDir:           "/run/provisiond",
			HostapdPath:       "hostapd",
			WPASupplicantPath: "wpa_supplicant",
			WPACLIPath:        "wpa_cli",
		},
	}
}
