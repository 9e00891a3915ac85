package portal

import (
	"reflect"
	"testing"
)

func TestPercentDecode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a+b", "a b"},
		{"%41", "A"},
		{"%4", "%4"},
		{"%", "%"},
		{"", ""},
		{"pw%20123", "pw 123"},
		{"%zz1", "%zz1"},
		{"100%", "100%"},
		{"%4g%41", "%4gA"},
		{"caf%C3%A9", "café"},
		{"a%2Bb", "a+b"},
		{"%%41", "%A"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := PercentDecode(tt.in); got != tt.want {
				t.Errorf("PercentDecode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseForm(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]string
	}{
		{"credentials", "ssid=MyNet&password=pw%20123", map[string]string{"ssid": "MyNet", "password": "pw 123"}},
		{"pair without equals", "a&b=2", map[string]string{"b": "2"}},
		{"empty body", "", map[string]string{}},
		{"empty value", "ssid=Net&password=", map[string]string{"ssid": "Net", "password": ""}},
		{"later wins", "ssid=one&ssid=two", map[string]string{"ssid": "two"}},
		{"equals in value", "password=a=b", map[string]string{"password": "a=b"}},
		{"encoded key", "my+key=v", map[string]string{"my key": "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseForm(tt.body); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseForm(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}
