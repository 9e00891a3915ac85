// Package radio controls the node's Wi-Fi radio in its two roles: access
// point for provisioning and station for joining the target network.
//
// Controller is the only type that changes roles. It holds one lock for
// the whole of every StartAP, StopAP and Connect call and always tears the
// other role down first, so the two roles are never active together.
//
// Hardware is reached through a Driver:
//
//	sim     in-memory, joinable networks configured as ssid -> secret
//	linux   hostapd for the AP, wpa_supplicant/wpa_cli for the station,
//	        netlink for addresses and link state
//
// Failing to activate a role is reported as *Error with KindActivation,
// which provisioning treats as fatal. A join that simply does not complete
// within its timeout is not an error.
package radio
