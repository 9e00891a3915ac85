package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "provisiond"
	configFile = "provisiond.yaml"
	systemDir  = "/etc/provisiond"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PROVISIOND_"
)

// DefaultDir returns the configuration directory. Nodes run the daemon as
// root and keep configuration in /etc/provisiond; developer machines use the
// XDG location.
func DefaultDir() (string, error) {
	if os.Geteuid() == 0 {
		return systemDir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultPath returns the full path of the configuration file.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the YAML file at path (DefaultPath when empty) over Default()
// and applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func stringEnv(name string, field func(c *Config) *string) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func durationEnv(name string, field func(c *Config) *time.Duration) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}}
}

func intEnv(name string, field func(c *Config) *int) envBinding {
	return envBinding{name, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}}
}

var envBindings = []envBinding{
	stringEnv("LOG_LEVEL", func(c *Config) *string { return &c.LogLevel }),
	stringEnv("AP_SSID", func(c *Config) *string { return &c.AP.SSID }),
	stringEnv("AP_PASSWORD", func(c *Config) *string { return &c.AP.Password }),
	stringEnv("AP_INTERFACE", func(c *Config) *string { return &c.AP.Interface }),
	stringEnv("AP_ADDRESS", func(c *Config) *string { return &c.AP.Address }),
	stringEnv("STATION_INTERFACE", func(c *Config) *string { return &c.Station.Interface }),
	durationEnv("CONNECT_TIMEOUT", func(c *Config) *time.Duration { return &c.Station.ConnectTimeout }),
	stringEnv("CREDENTIALS_PATH", func(c *Config) *string { return &c.Credentials.Path }),
	stringEnv("RADIO_DRIVER", func(c *Config) *string { return &c.Radio.Driver }),
	stringEnv("METRICS_LISTEN", func(c *Config) *string { return &c.Metrics.Listen }),
	intEnv("MAX_ATTEMPTS", func(c *Config) *int { return &c.Provisioning.MaxAttempts }),
	intEnv("HTTP_PORT", func(c *Config) *int { return &c.HTTP.Port }),
	intEnv("DNS_PORT", func(c *Config) *int { return &c.DNS.Port }),
}

// ApplyEnv applies PROVISIOND_* overrides using lookup (os.LookupEnv in
// production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, b.name, v, err)
		}
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.AP.SSID == "" || len(c.AP.SSID) > 32 {
		add("ap.ssid must be 1-32 characters, got %d", len(c.AP.SSID))
	}
	if n := len(c.AP.Password); n < 8 || n > 63 {
		add("ap.password must be 8-63 characters for WPA2, got %d", n)
	}
	if _, err := c.AP.Prefix(); err != nil {
		errs = append(errs, err)
	}

	checkPort := func(name string, port int) {
		if port < 0 || port > 65535 {
			add("%s must be 0-65535, got %d", name, port)
		}
	}
	checkPositive := func(name string, d time.Duration) {
		if d <= 0 {
			add("%s must be positive, got %s", name, d)
		}
	}

	checkPort("dns.port", c.DNS.Port)
	checkPort("http.port", c.HTTP.Port)
	checkPort("confirm.preferred_port", c.Confirm.PreferredPort)
	checkPort("confirm.fallback_port", c.Confirm.FallbackPort)

	if c.DNS.MaxPacketSize < headerMin || c.DNS.MaxPacketSize > 65535 {
		add("dns.max_packet_size must be %d-65535, got %d", headerMin, c.DNS.MaxPacketSize)
	}
	checkPositive("dns.read_timeout", c.DNS.ReadTimeout)
	if c.HTTP.ReadBuffer <= 0 {
		add("http.read_buffer must be positive, got %d", c.HTTP.ReadBuffer)
	}
	if c.HTTP.Backlog <= 0 {
		add("http.backlog must be positive, got %d", c.HTTP.Backlog)
	}
	checkPositive("http.accept_timeout", c.HTTP.AcceptTimeout)
	checkPositive("http.read_timeout", c.HTTP.ReadTimeout)
	if c.HTTP.SubmitPath == "" || c.HTTP.SubmitPath[0] != '/' {
		add("http.submit_path must start with '/', got %q", c.HTTP.SubmitPath)
	}

	checkPositive("station.connect_timeout", c.Station.ConnectTimeout)
	checkPositive("station.poll_interval", c.Station.PollInterval)
	checkPositive("radio.activation_timeout", c.Radio.ActivationTimeout)

	if c.DHCP.Enabled {
		checkPositive("dhcp.lease_duration", c.DHCP.LeaseDuration)
		if c.DHCP.PoolSize <= 0 || c.DHCP.PoolOffset <= 0 {
			add("dhcp.pool_offset and dhcp.pool_size must be positive")
		} else if p, err := c.AP.Prefix(); err == nil {
			hosts := 1<<(32-p.Bits()) - 2
			if c.DHCP.PoolOffset+c.DHCP.PoolSize-1 > hosts {
				add("dhcp pool %d+%d does not fit in %s", c.DHCP.PoolOffset, c.DHCP.PoolSize, p.Masked())
			}
		}
	}

	if c.Provisioning.MaxAttempts < 0 {
		add("provisioning.max_attempts must not be negative, got %d", c.Provisioning.MaxAttempts)
	}
	if c.Credentials.Path == "" {
		add("credentials.path must be set")
	}

	switch c.Radio.Driver {
	case "linux", "sim":
	default:
		add("radio.driver must be linux or sim, got %q", c.Radio.Driver)
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen %q is not host:port", c.Metrics.Listen)
		}
	}

	return errors.Join(errs...)
}

// headerMin is the size of a DNS header; smaller packet limits could never
// admit a query.
const headerMin = 12

// Save writes the configuration as YAML to path with mode 0600, atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# provisiond configuration
# Holds the provisioning AP pre-shared key; keep this file private.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
