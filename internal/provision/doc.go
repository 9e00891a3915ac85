// Package provision drives a node from power-on to a joined network.
//
// The machine first tries stored credentials. Without them, or when they
// fail, it raises the provisioning access point and runs the DNS hijack
// responder, the captive portal and the DHCP lease server until a user
// submits a network name and secret. Servers and AP are then torn down,
// the radio is switched to station mode and the join is attempted. On
// success the confirmation server runs until shutdown; on failure the
// portal comes back.
//
// State flow:
//
//	TryingSaved ──► Connected ──► ConfirmServing
//	     │              ▲
//	     ▼              │
//	  ApPortal ──► Connecting
//	     ▲              │
//	     └──────────────┘
//
// Submissions are consumed one at a time on the machine goroutine, so at
// most one join attempt is ever in flight and only the machine switches
// radio roles.
package provision
