package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Instance is an embedsrv server found on the local network.
type Instance struct {
	// Name is the mDNS instance name (e.g., "kiosk")
	Name string

	// Hostname is the mDNS hostname (e.g., "kiosk.local.")
	Hostname string

	// IP is the preferred address, IPv4 when available
	IP string

	Port int

	// TLS reports whether the server expects HTTPS
	TLS bool

	// WSPath is the WebSocket upgrade path, empty when WebSockets are off
	WSPath string

	// Version is the advertised build version
	Version string

	// Metadata holds every TXT record, including the ones above
	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable description of the instance.
func (i *Instance) String() string {
	return fmt.Sprintf("embedsrv %q (%s) at %s", i.Name, i.Hostname, net.JoinHostPort(i.IP, strconv.Itoa(i.Port)))
}

// BaseURL returns the HTTP(S) base URL of the instance.
func (i *Instance) BaseURL() string {
	scheme := "http"
	if i.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(i.IP, strconv.Itoa(i.Port)))
}

// WebSocketURL returns the ws:// or wss:// URL, or "" when the instance does
// not accept WebSockets.
func (i *Instance) WebSocketURL() string {
	if i.WSPath == "" {
		return ""
	}
	scheme := "ws"
	if i.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(i.IP, strconv.Itoa(i.Port)), i.WSPath)
}
