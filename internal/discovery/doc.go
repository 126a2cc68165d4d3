// Package discovery advertises and finds embedsrv instances with mDNS.
//
// Instances register as "_http._tcp" services. Their TXT records carry
// "server=embedsrv" so they can be told apart from other HTTP services,
// plus "tls=1" when the listener expects HTTPS, "ws=<path>" when WebSockets
// are enabled and "version=<build>".
//
// # Usage Example
//
//	adv, err := discovery.Advertise(discovery.Announcement{
//	    Instance: "kiosk",
//	    Port:     8000,
//	    WSPath:   "/ws",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adv.Shutdown()
//
//	instances, err := discovery.NewScanner().Scan(ctx)
//	for _, inst := range instances {
//	    fmt.Println(inst.BaseURL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Instances must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
