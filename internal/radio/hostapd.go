package radio

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"
)

const hostapdTemplate = `# generated by provisiond
interface={{.Settings.Interface}}
driver=nl80211
ctrl_interface={{.CtrlDir}}
ssid={{.Settings.SSID}}
hw_mode=g
channel={{.Settings.Channel}}
auth_algs=1
ignore_broadcast_ssid=0
wpa=2
wpa_key_mgmt=WPA-PSK
rsn_pairwise=CCMP
wpa_passphrase={{.Settings.Secret}}
`

const supplicantTemplate = `# generated by provisiond
ctrl_interface=DIR={{.CtrlDir}}
update_config=0
`

// renderHostapdConfig renders the hostapd configuration for settings.
func renderHostapdConfig(settings APSettings, ctrlDir string) (string, error) {
	if strings.ContainsAny(settings.SSID, "\r\n") || strings.ContainsAny(settings.Secret, "\r\n") {
		return "", fmt.Errorf("ssid and secret must not contain line breaks")
	}
	if n := len(settings.Secret); n < 8 || n > 63 {
		return "", fmt.Errorf("wpa2 passphrase must be 8-63 characters, got %d", n)
	}
	if settings.Channel <= 0 {
		settings.Channel = 6
	}
	return render("hostapd", hostapdTemplate, struct {
		Settings APSettings
		CtrlDir  string
	}{settings, ctrlDir})
}

// renderSupplicantConfig renders the minimal wpa_supplicant configuration.
// Networks are added at runtime through the control socket.
func renderSupplicantConfig(ctrlDir string) (string, error) {
	return render("wpa_supplicant", supplicantTemplate, struct{ CtrlDir string }{ctrlDir})
}

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// joinCommands returns the wpa_cli command sequence that replaces every
// configured network with ssid. The ssid is hex encoded so any byte is
// safe; the passphrase is quoted.
func joinCommands(ssid, secret string) [][]string {
	return [][]string{
		{"remove_network", "all"},
		{"add_network"},
		{"set_network", "0", "ssid", hex.EncodeToString([]byte(ssid))},
		{"set_network", "0", "psk", `"` + secret + `"`},
		{"set_network", "0", "key_mgmt", "WPA-PSK"},
		{"enable_network", "0"},
		{"select_network", "0"},
	}
}

// parseWPAStatus parses `wpa_cli status` output into key/value pairs.
func parseWPAStatus(out string) map[string]string {
	status := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok {
			status[key] = value
		}
	}
	return status
}

// wpaAssociated reports whether a parsed status shows a completed join.
func wpaAssociated(status map[string]string) bool {
	return status["wpa_state"] == "COMPLETED"
}
