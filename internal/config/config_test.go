package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestDefaultPortalIP(t *testing.T) {
	ip, err := Default().AP.PortalIP()
	if err != nil {
		t.Fatalf("PortalIP() error = %v", err)
	}
	if ip.String() != "192.168.4.1" {
		t.Errorf("PortalIP() = %s, want 192.168.4.1", ip)
	}
}

func TestDefaultDNSPauses(t *testing.T) {
	dns := Default().DNS
	if dns.AnswerPause != 10*time.Millisecond {
		t.Errorf("DNS.AnswerPause = %s, want 10ms", dns.AnswerPause)
	}
	if dns.LowMemoryPause != 50*time.Millisecond {
		t.Errorf("DNS.LowMemoryPause = %s, want 50ms", dns.LowMemoryPause)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Default()
	if cfg.AP.SSID != def.AP.SSID || cfg.HTTP.Port != def.HTTP.Port {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisiond.yaml")
	data := `
ap:
  ssid: Workshop
station:
  connect_timeout: 20s
provisioning:
  max_attempts: 3
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AP.SSID != "Workshop" {
		t.Errorf("AP.SSID = %q, want Workshop", cfg.AP.SSID)
	}
	if cfg.AP.Password != "hacktheplanet" {
		t.Errorf("AP.Password = %q, want default kept", cfg.AP.Password)
	}
	if cfg.Station.ConnectTimeout != 20*time.Second {
		t.Errorf("Station.ConnectTimeout = %s, want 20s", cfg.Station.ConnectTimeout)
	}
	if cfg.Provisioning.MaxAttempts != 3 {
		t.Errorf("Provisioning.MaxAttempts = %d, want 3", cfg.Provisioning.MaxAttempts)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisiond.yaml")
	if err := os.WriteFile(path, []byte("ap: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("PROVISIOND_AP_SSID", "FromEnv")
	t.Setenv("PROVISIOND_CONNECT_TIMEOUT", "3s")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AP.SSID != "FromEnv" {
		t.Errorf("AP.SSID = %q, want FromEnv", cfg.AP.SSID)
	}
	if cfg.Station.ConnectTimeout != 3*time.Second {
		t.Errorf("Station.ConnectTimeout = %s, want 3s", cfg.Station.ConnectTimeout)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PROVISIOND_RADIO_DRIVER":     "sim",
		"PROVISIOND_MAX_ATTEMPTS":     "5",
		"PROVISIOND_CREDENTIALS_PATH": "/data/creds.txt",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Radio.Driver != "sim" {
		t.Errorf("Radio.Driver = %q, want sim", cfg.Radio.Driver)
	}
	if cfg.Provisioning.MaxAttempts != 5 {
		t.Errorf("Provisioning.MaxAttempts = %d, want 5", cfg.Provisioning.MaxAttempts)
	}
	if cfg.Credentials.Path != "/data/creds.txt" {
		t.Errorf("Credentials.Path = %q", cfg.Credentials.Path)
	}
}

func TestApplyEnvInvalidValue(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "PROVISIOND_MAX_ATTEMPTS" {
			return "many", true
		}
		return "", false
	}
	err := Default().ApplyEnv(lookup)
	if err == nil || !strings.Contains(err.Error(), "PROVISIOND_MAX_ATTEMPTS") {
		t.Errorf("ApplyEnv() error = %v, want mention of PROVISIOND_MAX_ATTEMPTS", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadEnvFile() on missing file error = %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PROVISIOND_TEST_ENVFILE=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PROVISIOND_TEST_ENVFILE") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("PROVISIOND_TEST_ENVFILE"); got != "loaded" {
		t.Errorf("PROVISIOND_TEST_ENVFILE = %q, want loaded", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty ssid", func(c *Config) { c.AP.SSID = "" }, "ap.ssid"},
		{"long ssid", func(c *Config) { c.AP.SSID = strings.Repeat("x", 33) }, "ap.ssid"},
		{"short psk", func(c *Config) { c.AP.Password = "short" }, "ap.password"},
		{"ipv6 address", func(c *Config) { c.AP.Address = "fd00::1/64" }, "not IPv4"},
		{"bad address", func(c *Config) { c.AP.Address = "portal" }, "ap.address"},
		{"port range", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"tiny packet limit", func(c *Config) { c.DNS.MaxPacketSize = 8 }, "dns.max_packet_size"},
		{"zero connect timeout", func(c *Config) { c.Station.ConnectTimeout = 0 }, "station.connect_timeout"},
		{"submit path", func(c *Config) { c.HTTP.SubmitPath = "provision" }, "http.submit_path"},
		{"negative attempts", func(c *Config) { c.Provisioning.MaxAttempts = -1 }, "max_attempts"},
		{"unknown driver", func(c *Config) { c.Radio.Driver = "esp" }, "radio.driver"},
		{"pool overflow", func(c *Config) { c.DHCP.PoolSize = 300 }, "does not fit"},
		{"metrics address", func(c *Config) { c.Metrics.Listen = "9100" }, "metrics.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.AP.SSID = ""
	cfg.Radio.Driver = "esp"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "ap.ssid") || !strings.Contains(msg, "radio.driver") {
		t.Errorf("Validate() error = %q, want both problems", msg)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "provisiond.yaml")
	cfg := Default()
	cfg.AP.SSID = "Saved"
	cfg.DNS.ReadTimeout = 2 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.AP.SSID != "Saved" {
		t.Errorf("AP.SSID = %q, want Saved", loaded.AP.SSID)
	}
	if loaded.DNS.ReadTimeout != 2*time.Second {
		t.Errorf("DNS.ReadTimeout = %s, want 2s", loaded.DNS.ReadTimeout)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}
