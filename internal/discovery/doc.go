// Package discovery advertises and finds provisioned nodes over mDNS.
//
// Once a node has joined its target network it registers its confirmation
// server as an "_http._tcp" service. Each record carries a "provisiond"
// TXT key with the daemon version, which is how scanners tell provisiond
// nodes apart from any other HTTP service on the segment.
//
// # Usage Example
//
//	ad, err := discovery.Advertise("kitchen-node", 80, version.Version, map[string]string{"ssid": "Home"})
//	if err != nil {
//	    return err
//	}
//	defer ad.Shutdown()
//
//	nodes, err := discovery.QuickScan(ctx)
//	for _, n := range nodes {
//	    fmt.Println(n)
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Nodes must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
