package radio

import (
	"net/netip"
	"strings"
	"testing"
)

func TestRenderHostapdConfig(t *testing.T) {
	conf, err := renderHostapdConfig(APSettings{
		Interface: "wlan0",
		SSID:      "ESP32_LAB",
		Secret:    "hacktheplanet",
		Address:   netip.MustParsePrefix("192.168.4.1/24"),
		Channel:   11,
	}, "/run/provisiond/hostapd")
	if err != nil {
		t.Fatalf("renderHostapdConfig() error = %v", err)
	}

	for _, want := range []string{
		"interface=wlan0\n",
		"ssid=ESP32_LAB\n",
		"channel=11\n",
		"wpa=2\n",
		"wpa_key_mgmt=WPA-PSK\n",
		"wpa_passphrase=hacktheplanet\n",
		"ctrl_interface=/run/provisiond/hostapd\n",
	} {
		if !strings.Contains(conf, want) {
			t.Errorf("config missing %q:\n%s", want, conf)
		}
	}
}

func TestRenderHostapdConfigRejects(t *testing.T) {
	tests := []APSettings{
		{SSID: "bad\nssid", Secret: "hacktheplanet"},
		{SSID: "ok", Secret: "short"},
		{SSID: "ok", Secret: strings.Repeat("x", 64)},
	}
	for _, s := range tests {
		if _, err := renderHostapdConfig(s, "/tmp"); err == nil {
			t.Errorf("renderHostapdConfig(%+v) error = nil", s)
		}
	}
}

func TestRenderHostapdConfigDefaultChannel(t *testing.T) {
	conf, err := renderHostapdConfig(APSettings{SSID: "x", Secret: "password1"}, "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conf, "channel=6\n") {
		t.Errorf("default channel missing:\n%s", conf)
	}
}

func TestRenderSupplicantConfig(t *testing.T) {
	conf, err := renderSupplicantConfig("/run/provisiond/wpa_supplicant")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conf, "ctrl_interface=DIR=/run/provisiond/wpa_supplicant\n") {
		t.Errorf("config = %q", conf)
	}
}

func TestJoinCommands(t *testing.T) {
	cmds := joinCommands("Café", "pass word")
	var ssid, psk []string
	for _, c := range cmds {
		if len(c) == 4 && c[0] == "set_network" && c[2] == "ssid" {
			ssid = c
		}
		if len(c) == 4 && c[0] == "set_network" && c[2] == "psk" {
			psk = c
		}
	}
	if ssid == nil || ssid[3] != "436166c3a9" {
		t.Errorf("ssid command = %v, want hex encoded name", ssid)
	}
	if psk == nil || psk[3] != `"pass word"` {
		t.Errorf("psk command = %v, want quoted passphrase", psk)
	}
	if last := cmds[len(cmds)-1]; last[0] != "select_network" {
		t.Errorf("last command = %v, want select_network", last)
	}
}

func TestParseWPAStatus(t *testing.T) {
	out := "bssid=aa:bb:cc:dd:ee:ff\nssid=Home\nid=0\nmode=station\nwpa_state=COMPLETED\nip_address=10.0.0.23\n"
	status := parseWPAStatus(out)
	if status["ssid"] != "Home" {
		t.Errorf("ssid = %q", status["ssid"])
	}
	if !wpaAssociated(status) {
		t.Error("wpaAssociated() = false for COMPLETED")
	}
	if wpaAssociated(parseWPAStatus("wpa_state=SCANNING\n")) {
		t.Error("wpaAssociated() = true while scanning")
	}
}
