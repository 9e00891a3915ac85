package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/muurk/provisiond/internal/config"
	"github.com/muurk/provisiond/internal/confirm"
	"github.com/muurk/provisiond/internal/credentials"
	"github.com/muurk/provisiond/internal/dhcplease"
	"github.com/muurk/provisiond/internal/discovery"
	"github.com/muurk/provisiond/internal/logging"
	"github.com/muurk/provisiond/internal/metrics"
	"github.com/muurk/provisiond/internal/portal"
	"github.com/muurk/provisiond/internal/probe"
	"github.com/muurk/provisiond/internal/provision"
	"github.com/muurk/provisiond/internal/radio"
	"github.com/muurk/provisiond/internal/ui"
	"github.com/muurk/provisiond/internal/version"
)

// Shared flags
var (
	configPath string
	envFile    string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to provisiond.yaml (default: config directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with PROVISIOND_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, off)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig applies the file, the env file and PROVISIOND_* variables.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// runCmd drives the provisioning state machine
var (
	runDriver      string
	runCredentials string
	runAttempts    int
	runMetrics     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the provisioning daemon",
	Long: `Run the provisioning state machine on this node.

Saved credentials are tried first. Without them, or when the join fails,
the node raises the provisioning access point and serves the captive
portal until a submitted network can be joined. After joining, a
confirmation page is served on port 80 (8080 when 80 is taken).

The daemon needs CAP_NET_ADMIN and CAP_NET_BIND_SERVICE with the linux
radio driver. The sim driver runs anywhere and is meant for development.`,
	Example: `  # Run with the configuration in /etc/provisiond
  provisiond run

  # Develop on a laptop: simulated radio, unprivileged ports via env
  PROVISIOND_DNS_PORT=5353 PROVISIOND_HTTP_PORT=8081 provisiond run --driver sim

  # Give up after three failed joins and expose metrics
  provisiond run --max-attempts 3 --metrics :9100`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&runDriver, "driver", "", "Radio driver (linux, sim)")
	runCmd.Flags().StringVar(&runCredentials, "credentials", "", "Credential file path")
	runCmd.Flags().IntVar(&runAttempts, "max-attempts", 0, "Failed joins before giving up (0 = unbounded)")
	runCmd.Flags().StringVar(&runMetrics, "metrics", "", "Serve Prometheus metrics on host:port")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Radio.Driver = runDriver
	}
	if flags.Changed("credentials") {
		cfg.Credentials.Path = runCredentials
	}
	if flags.Changed("max-attempts") {
		cfg.Provisioning.MaxAttempts = runAttempts
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Listen = runMetrics
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logging.Sync()
	logger := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := newController(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Radio shutdown incomplete", zap.Error(err))
		}
	}()

	mc, err := machineConfig(cfg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, logging.Named("metrics")); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("Starting provisiond",
		zap.String("version", version.Version),
		zap.String("driver", cfg.Radio.Driver),
		zap.String("ap_ssid", cfg.AP.SSID),
		zap.String("credentials", cfg.Credentials.Path),
	)

	store := credentials.NewStore(cfg.Credentials.Path)
	m := provision.New(mc, ctrl, store, logging.Named("provision"))
	if err := m.Run(ctx); err != nil {
		return err
	}
	logger.Info("Stopped", zap.Stringer("state", m.State()))
	return nil
}

func newController(cfg *config.Config) (*radio.Controller, error) {
	prefix, err := cfg.AP.Prefix()
	if err != nil {
		return nil, err
	}
	driver, err := radio.NewDriver(cfg.Radio.Driver, radio.LinuxConfig{
		APInterface:       cfg.AP.Interface,
		StationInterface:  cfg.Station.Interface,
		WorkDir:           cfg.Radio.WorkDir,
		HostapdPath:       cfg.Radio.HostapdPath,
		WPASupplicantPath: cfg.Radio.WPASupplicantPath,
		WPACLIPath:        cfg.Radio.WPACLIPath,
		DHCPClient:        cfg.Radio.DHCPClient,
	}, cfg.Radio.SimNetworks, logging.Named("radio"))
	if err != nil {
		return nil, fmt.Errorf("failed to create radio driver: %w", err)
	}

	rc := radio.DefaultConfig()
	rc.APInterface = cfg.AP.Interface
	rc.APAddress = prefix
	rc.APChannel = cfg.AP.Channel
	rc.ActivationTimeout = cfg.Radio.ActivationTimeout
	rc.SettleDelay = cfg.Station.SettleDelay
	rc.PollInterval = cfg.Station.PollInterval
	return radio.NewController(driver, rc, logging.Named("radio")), nil
}

// machineConfig maps the file configuration onto the state machine.
func machineConfig(cfg *config.Config) (*provision.Config, error) {
	prefix, err := cfg.AP.Prefix()
	if err != nil {
		return nil, err
	}

	mc := provision.DefaultConfig()
	mc.APSSID = cfg.AP.SSID
	mc.APSecret = cfg.AP.Password
	mc.ConnectTimeout = cfg.Station.ConnectTimeout
	mc.MaxAttempts = cfg.Provisioning.MaxAttempts

	mc.DNS.Port = cfg.DNS.Port
	mc.DNS.MemoryThreshold = cfg.DNS.MemoryThreshold
	mc.DNS.MaxPacketSize = cfg.DNS.MaxPacketSize
	mc.DNS.TTL = cfg.DNS.TTL
	mc.DNS.ReadTimeout = cfg.DNS.ReadTimeout
	mc.DNS.LowMemoryPause = cfg.DNS.LowMemoryPause
	mc.DNS.AnswerPause = cfg.DNS.AnswerPause

	mc.Portal.Port = cfg.HTTP.Port
	mc.Portal.Backlog = cfg.HTTP.Backlog
	mc.Portal.ReadBuffer = cfg.HTTP.ReadBuffer
	mc.Portal.AcceptTimeout = cfg.HTTP.AcceptTimeout
	mc.Portal.ReadTimeout = cfg.HTTP.ReadTimeout
	mc.Portal.SubmitPath = cfg.HTTP.SubmitPath
	if cfg.HTTP.PagePath != "" {
		mc.Page = portal.FilePage(cfg.HTTP.PagePath)
	}

	mc.DHCPEnabled = cfg.DHCP.Enabled
	mc.DHCP.Interface = cfg.AP.Interface
	mc.Pool = dhcplease.PoolConfig{
		Prefix:        prefix,
		Offset:        cfg.DHCP.PoolOffset,
		Size:          cfg.DHCP.PoolSize,
		LeaseDuration: cfg.DHCP.LeaseDuration,
	}

	mc.Confirm = confirm.Config{
		Host:          cfg.Confirm.Host,
		PreferredPort: cfg.Confirm.PreferredPort,
		FallbackPort:  cfg.Confirm.FallbackPort,
		ReadTimeout:   mc.Confirm.ReadTimeout,
	}
	if cfg.Confirm.PagePath != "" {
		mc.Confirm.Page = portal.FilePage(cfg.Confirm.PagePath)
	}
	mc.Advertise = cfg.Confirm.Advertise
	mc.ServiceName = cfg.Confirm.ServiceName
	mc.Version = version.Version
	return mc, nil
}

// probeCmd checks a node in portal mode from a joined client
var probeFlags = probe.DefaultConfig()

var (
	probeNode    string
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check a node's captive portal",
	Long: `Check a node in portal mode from a client joined to its access point.

The probe resolves a connectivity-check name through the node and expects
the node's own address back, then fetches the portal page. With --ssid it
also submits credentials, which makes the node try to join that network.`,
	Example: `  # Check DNS hijacking and the portal page
  provisiond probe

  # Provision the node onto a network
  provisiond probe --ssid HomeNet --password 'correct horse'

  # Probe a dev instance on unprivileged ports
  provisiond probe --node 127.0.0.1 --dns-port 5353 --http-port 8081`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeNode, "node", probeFlags.Node.String(), "Node portal address")
	probeCmd.Flags().IntVar(&probeFlags.DNSPort, "dns-port", probeFlags.DNSPort, "Node DNS port")
	probeCmd.Flags().IntVar(&probeFlags.HTTPPort, "http-port", probeFlags.HTTPPort, "Node portal port")
	probeCmd.Flags().StringVar(&probeFlags.SubmitPath, "submit-path", probeFlags.SubmitPath, "Form submission path")
	probeCmd.Flags().StringVar(&probeFlags.QueryName, "query", probeFlags.QueryName, "Name to resolve through the node")
	probeCmd.Flags().StringVar(&probeFlags.SSID, "ssid", "", "Network to submit (skips submission when empty)")
	probeCmd.Flags().StringVar(&probeFlags.Password, "password", "", "Password to submit")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", probe.DefaultTimeout, "Per-stage timeout")
}

var stageNames = map[probe.Stage]string{
	probe.StageDNS:    "DNS answers with node address",
	probe.StagePortal: "Portal page served",
	probe.StageSubmit: "Credentials accepted",
}

func runProbe(cmd *cobra.Command, args []string) error {
	node, err := netip.ParseAddr(probeNode)
	if err != nil || !node.Is4() {
		return fmt.Errorf("invalid --node %q: must be an IPv4 address", probeNode)
	}
	probeFlags.Node = node
	probeFlags.Timeout = probeTimeout

	if err := logging.Initialize(logLevelOr("off")); err != nil {
		return err
	}

	width := ui.GetTerminalWidth()
	client := probe.NewClient(probeFlags)
	params := []ui.Field{
		{Key: "Node", Value: node.String()},
		{Key: "Portal", Value: client.BaseURL()},
	}
	if probeFlags.SSID != "" {
		params = append(params, ui.Field{Key: "Submit", Value: probeFlags.SSID})
	}
	fmt.Println(ui.NewHeader("PORTAL PROBE", "provisiond probe", params...).SetWidth(width))

	checks := ui.NewChecklist(os.Stdout)
	err = client.Run(cmd.Context(), func(r probe.Result) {
		c := ui.Check{Name: stageNames[r.Stage], Note: r.Detail}
		switch {
		case r.Skipped:
			c.Status = ui.CheckSkip
		case r.Err != nil:
			c.Status = ui.CheckFail
			var perr *probe.Error
			if errors.As(r.Err, &perr) {
				c.Note = perr.Type.String()
			}
		default:
			c.Status = ui.CheckPass
			c.Note = fmt.Sprintf("%s, %s", r.Detail, r.Duration.Round(time.Millisecond))
		}
		checks.Report(c)
	})
	fmt.Println()

	if err != nil {
		fmt.Println(ui.NewFailureResult("Probe failed", err, probe.Troubleshooting(err)).SetWidth(width))
		return errors.New("probe failed")
	}
	result := ui.NewSuccessResult("Node is serving the portal",
		ui.Field{Key: "Node", Value: node.String()},
	).SetWidth(width)
	if probeFlags.SSID != "" {
		result.AddDetail("Next", "the node is joining "+probeFlags.SSID)
		result.AddDetail("Then", "run 'provisiond scan' from that network")
	}
	fmt.Println(result)
	return nil
}

func logLevelOr(def string) string {
	if logLevel != "" {
		return logLevel
	}
	return def
}

// scanCmd finds provisioned nodes with mDNS
var scanTimeout int

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for provisioned nodes on the network",
	Long: `Scan for provisioned nodes using mDNS/DNS-SD discovery.

A node advertises its confirmation server once it has joined a network,
when confirm.advertise is enabled.`,
	Example: `  # Scan for 10 seconds (default)
  provisiond scan

  # Quick 3-second scan
  provisiond scan --timeout 3`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	fmt.Printf("Scanning for provisioned nodes (timeout: %ds)...\n\n", scanTimeout)

	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(scanTimeout) * time.Second
	nodes, err := scanner.ScanForNodes(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Println("No nodes found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the node finished provisioning (confirmation page is up)")
		fmt.Println("  - Check that you are on the same network the node joined")
		fmt.Println("  - Check that confirm.advertise is enabled on the node")
		fmt.Println("  - Try increasing --timeout for slower networks")
		return nil
	}

	fmt.Printf("Found %d node(s):\n\n", len(nodes))
	for i, node := range nodes {
		fmt.Printf("%d. %s\n", i+1, node.Instance)
		fmt.Printf("   Host:    %s\n", node.Hostname)
		fmt.Printf("   URL:     %s\n", node.BaseURL())
		if ssid := node.GetMetadata("ssid"); ssid != "" {
			fmt.Printf("   Network: %s\n", ssid)
		}
		if v := node.GetMetadata("provisiond"); v != "" {
			fmt.Printf("   Version: %s\n", v)
		}
		fmt.Println()
	}
	return nil
}

// forgetCmd removes saved credentials
var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove saved network credentials",
	Long: `Remove the saved credentials so the next 'provisiond run' raises the
provisioning access point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := credentials.NewStore(cfg.Credentials.Path)
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Printf("Removed credentials from %s\n", store.Path())
		return nil
	},
}

// configCmd manages the configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the file, the .env file and
PROVISIOND_* variables. The AP password is masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.AP.Password != "" {
			cfg.AP.Password = "********"
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		os.Stdout.Write(data)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "\nConfiguration problems:\n%v\n", err)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}
