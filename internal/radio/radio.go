package radio

import (
	"context"
	"net/netip"
)

// Role is a radio interface mode.
type Role int

const (
	RoleAP Role = iota
	RoleStation
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleAP:
		return "ap"
	case RoleStation:
		return "station"
	default:
		return "unknown"
	}
}

// NetworkConfig describes the provisioning AP once it is up.
type NetworkConfig struct {
	Interface string
	Address   netip.Addr   // portal address
	Subnet    netip.Prefix // AP subnet, masked
	Gateway   netip.Addr
}

// APSettings is what a driver needs to bring up the access point.
type APSettings struct {
	Interface string
	SSID      string
	Secret    string       // WPA2-PSK
	Address   netip.Prefix // portal address with prefix length
	Channel   int
}

// StationStatus is a single station poll result.
type StationStatus struct {
	Associated bool
	SSID       string
	Address    netip.Addr // zero until an IPv4 address is configured
}

// Connected reports association with an IPv4 address.
func (s StationStatus) Connected() bool {
	return s.Associated && s.Address.IsValid()
}

// Driver is the hardware seam. Implementations need not enforce role
// exclusivity; Controller never asks for both roles at once.
type Driver interface {
	ActivateAP(ctx context.Context, settings APSettings) error
	APReady(ctx context.Context) (bool, error)
	DeactivateAP(ctx context.Context) error

	ActivateStation(ctx context.Context) error
	Join(ctx context.Context, ssid, secret string) error
	StationStatus(ctx context.Context) (StationStatus, error)
	Disconnect(ctx context.Context) error
	DeactivateStation(ctx context.Context) error
}
