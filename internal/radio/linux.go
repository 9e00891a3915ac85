//go:build linux

package radio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// linuxDriver drives a nl80211 interface with hostapd for the AP role and
// wpa_supplicant for the station role. Addresses and link state go through
// netlink.
type linuxDriver struct {
	config LinuxConfig
	logger *zap.Logger

	mu         sync.Mutex
	hostapd    *process
	supplicant *process
	dhcp       *process
	apAddr     *netlink.Addr
}

// process is a supervised child whose exit is observable.
type process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProcess(name, path string, args []string, logger *zap.Logger) (*process, error) {
	cmd := exec.Command(path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	p := &process{name: name, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		if p.err != nil {
			logger.Debug("child exited",
				zap.String("process", name),
				zap.Error(p.err),
				zap.String("stderr", strings.TrimSpace(stderr.String())),
			)
		}
		close(p.done)
	}()
	logger.Debug("child started", zap.String("process", name), zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// stop sends SIGTERM and escalates to SIGKILL after grace.
func (p *process) stop(grace time.Duration) {
	if p == nil || p.exited() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func newLinuxDriver(cfg LinuxConfig, logger *zap.Logger) (Driver, error) {
	if cfg.APInterface == "" {
		return nil, &Error{Kind: KindConfig, Role: RoleAP, Message: "no ap interface configured"}
	}
	if cfg.StationInterface == "" {
		cfg.StationInterface = cfg.APInterface
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "provisiond")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0700); err != nil {
		return nil, &Error{Kind: KindConfig, Message: "failed to create work directory", Err: err}
	}
	return &linuxDriver{config: cfg, logger: logger}, nil
}

func (d *linuxDriver) hostapdCtrlDir() string { return filepath.Join(d.config.WorkDir, "hostapd") }
func (d *linuxDriver) wpaCtrlDir() string     { return filepath.Join(d.config.WorkDir, "wpa_supplicant") }

func (d *linuxDriver) writeConfig(name, content string) (string, error) {
	path := filepath.Join(d.config.WorkDir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

func (d *linuxDriver) ActivateAP(_ context.Context, settings APSettings) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conf, err := renderHostapdConfig(settings, d.hostapdCtrlDir())
	if err != nil {
		return err
	}
	path, err := d.writeConfig("hostapd.conf", conf)
	if err != nil {
		return err
	}

	link, err := netlink.LinkByName(settings.Interface)
	if err != nil {
		return fmt.Errorf("interface %s: %w", settings.Interface, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", settings.Interface, err)
	}
	addr, err := netlink.ParseAddr(settings.Address.String())
	if err != nil {
		return fmt.Errorf("invalid portal address: %w", err)
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("failed to assign %s to %s: %w", settings.Address, settings.Interface, err)
	}
	d.apAddr = addr

	p, err := startProcess("hostapd", d.config.HostapdPath, []string{path}, d.logger)
	if err != nil {
		return err
	}
	d.hostapd = p
	return nil
}

func (d *linuxDriver) APReady(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hostapd == nil {
		return false, errors.New("hostapd not started")
	}
	if d.hostapd.exited() {
		return false, fmt.Errorf("hostapd exited: %v", d.hostapd.err)
	}
	link, err := netlink.LinkByName(d.config.APInterface)
	if err != nil {
		return false, err
	}
	return link.Attrs().OperState == netlink.OperUp, nil
}

func (d *linuxDriver) DeactivateAP(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hostapd.stop(3 * time.Second)
	d.hostapd = nil

	if d.apAddr != nil {
		if link, err := netlink.LinkByName(d.config.APInterface); err == nil {
			if err := netlink.AddrDel(link, d.apAddr); err != nil {
				d.logger.Debug("failed to remove portal address", zap.Error(err))
			}
		}
		d.apAddr = nil
	}
	return nil
}

func (d *linuxDriver) ActivateStation(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conf, err := renderSupplicantConfig(d.wpaCtrlDir())
	if err != nil {
		return err
	}
	path, err := d.writeConfig("wpa_supplicant.conf", conf)
	if err != nil {
		return err
	}

	link, err := netlink.LinkByName(d.config.StationInterface)
	if err != nil {
		return fmt.Errorf("interface %s: %w", d.config.StationInterface, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", d.config.StationInterface, err)
	}

	p, err := startProcess("wpa_supplicant", d.config.WPASupplicantPath,
		[]string{"-i", d.config.StationInterface, "-c", path, "-D", "nl80211"}, d.logger)
	if err != nil {
		return err
	}
	d.supplicant = p

	// The control socket appears once wpa_supplicant has initialised.
	sock := filepath.Join(d.wpaCtrlDir(), d.config.StationInterface)
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(sock); err == nil {
			return nil
		}
		if p.exited() {
			return fmt.Errorf("wpa_supplicant exited: %v", p.err)
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("wpa_supplicant control socket %s did not appear", sock)
}

func (d *linuxDriver) wpaCLI(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-p", d.wpaCtrlDir(), "-i", d.config.StationInterface}, args...)
	out, err := exec.CommandContext(ctx, d.config.WPACLIPath, full...).Output()
	if err != nil {
		return "", fmt.Errorf("wpa_cli %s: %w", args[0], err)
	}
	res := strings.TrimSpace(string(out))
	if strings.HasPrefix(res, "FAIL") {
		return "", fmt.Errorf("wpa_cli %s: %s", args[0], res)
	}
	return res, nil
}

func (d *linuxDriver) Join(ctx context.Context, ssid, secret string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cmd := range joinCommands(ssid, secret) {
		if _, err := d.wpaCLI(ctx, cmd...); err != nil {
			return err
		}
	}

	if len(d.config.DHCPClient) > 0 {
		d.dhcp.stop(time.Second)
		p, err := startProcess("dhcp client", d.config.DHCPClient[0], d.config.DHCPClient[1:], d.logger)
		if err != nil {
			return err
		}
		d.dhcp = p
	}
	return nil
}

func (d *linuxDriver) StationStatus(ctx context.Context) (StationStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, err := d.wpaCLI(ctx, "status")
	if err != nil {
		return StationStatus{}, err
	}
	status := parseWPAStatus(out)
	st := StationStatus{Associated: wpaAssociated(status), SSID: status["ssid"]}
	if !st.Associated {
		return st, nil
	}

	link, err := netlink.LinkByName(d.config.StationInterface)
	if err != nil {
		return st, err
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return st, err
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP.To4())
		if ok && !ip.IsLinkLocalUnicast() {
			st.Address = ip
			break
		}
	}
	return st, nil
}

func (d *linuxDriver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dhcp.stop(time.Second)
	d.dhcp = nil
	if d.supplicant == nil || d.supplicant.exited() {
		return nil
	}
	_, err := d.wpaCLI(ctx, "disconnect")
	return err
}

func (d *linuxDriver) DeactivateStation(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dhcp.stop(time.Second)
	d.dhcp = nil
	d.supplicant.stop(3 * time.Second)
	d.supplicant = nil
	return nil
}
