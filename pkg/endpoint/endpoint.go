// Package endpoint describes the remote party a Connection dials: a
// hostname/port pair, optionally paired with a pre-resolved IP so the
// core can skip DNS.
package endpoint

import (
	"net"
	"strconv"
)

// Endpoint is an opaque descriptor for the connection's remote party.
// It carries just enough information to dial a socket and to derive a
// TLS server-name identity; it does not describe scheme, path, or any
// other HTTP-level concept.
type Endpoint struct {
	Host string
	Port int

	// IP, if set, is used as the dial address directly, bypassing
	// resolution of Host. ServerName() still uses Host for SNI in this
	// case, matching the "connect to this IP, but identify yourself as
	// this hostname" pattern.
	IP string
}

// Addr returns the "host:port" string to dial.
func (e Endpoint) Addr() string {
	host := e.Host
	if e.IP != "" {
		host = e.IP
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// ServerName returns the identity to present for TLS SNI and certificate
// verification: always the hostname, never the resolved IP.
func (e Endpoint) ServerName() string {
	return e.Host
}

// NeedsResolution reports whether dialing this endpoint requires a DNS
// lookup (no pre-resolved IP was supplied).
func (e Endpoint) NeedsResolution() bool {
	return e.IP == ""
}

// String renders a human-readable form for logging.
func (e Endpoint) String() string {
	if e.IP != "" {
		return e.Host + "(" + e.IP + "):" + strconv.Itoa(e.Port)
	}
	return e.Host + ":" + strconv.Itoa(e.Port)
}
