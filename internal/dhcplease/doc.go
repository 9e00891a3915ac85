// Package dhcplease hands out addresses to clients of the provisioning
// access point.
//
// Every lease names the portal as router and DNS server, so a client that
// joins the AP resolves every name through the hijacking responder and
// lands on the captive portal. Leases live in memory only; the pool is
// small and the AP is short lived.
//
// The protocol itself is handled by github.com/krolaw/dhcp4. Server binds
// UDP 67 on all addresses and uses interface control messages to answer
// only requests that arrive on the AP interface.
package dhcplease
