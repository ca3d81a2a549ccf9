// Package socketprops defines the dial- and TLS-time options a session
// hands a connection before it connects: local bind address, timeouts,
// proxy policy, and TLS trust configuration. Grounded on the teacher's
// client.Options/transport.PoolConfig, merged into one bag since this
// core dials one connection at a time rather than managing a pool.
package socketprops

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"
)

// ProxyPolicy selects how a Connection resolves its proxy.
type ProxyPolicy int

const (
	// ProxyUseDefault dials directly with no proxy. A session wanting
	// environment-derived proxy behavior resolves it itself and supplies
	// an explicit ProxyResolver instead; this core has no opinion on
	// environment variables.
	ProxyUseDefault ProxyPolicy = iota
	// ProxyExplicit routes through the configured Resolver.
	ProxyExplicit
	// ProxyDisabled forces a direct connection even if a Resolver is set.
	ProxyDisabled
)

// Resolver decides the proxy address (if any) to use for an endpoint.
// Scheme is "http" for CONNECT-tunneling proxies or "socks5" for a SOCKS5
// resolver; an empty addr means connect directly.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) (addr, scheme string, err error)
}

// TLSInteraction lets a session supply a client certificate on demand,
// generalizing the teacher's "load client cert from a file" into "ask an
// interaction object", which can prompt a user or consult a keychain.
type TLSInteraction interface {
	ClientCertificate(ctx context.Context, serverName string) (*tls.Certificate, error)
}

// TLSDatabase selects the trust root used for certificate verification.
// A nil Roots means "use the platform default", mirroring
// new_tls_connection's explicit-tlsdb-vs-default distinction.
type TLSDatabase struct {
	Roots *x509.CertPool
}

// SocketProperties is the full set of options a Connection is configured
// with at creation time.
type SocketProperties struct {
	// LocalAddr binds the outgoing socket to a specific local address,
	// or nil to let the kernel choose.
	LocalAddr *net.TCPAddr

	// DialTimeout bounds TCP (and proxy CONNECT) establishment.
	DialTimeout time.Duration
	// TLSHandshakeTimeout bounds the TLS handshake once the underlying
	// byte stream is established.
	TLSHandshakeTimeout time.Duration
	// IOTimeout is carried for the session's use; this core does not apply
	// it. Dialing is bounded by DialTimeout only, no read/write deadline is
	// set from it, and the idle-open liveness probe uses its own fixed
	// one-millisecond read deadline.
	IOTimeout time.Duration
	// IdleTimeout is the grace period an Idle connection may sit unused
	// before it disconnects. Zero disables the idle timer entirely: the
	// connection stays Idle indefinitely until explicitly borrowed or
	// disconnected.
	IdleTimeout time.Duration

	ProxyPolicy   ProxyPolicy
	ProxyResolver Resolver

	TLS            bool
	TLSConfig      *tls.Config
	TLSInteraction TLSInteraction
	TLSDatabase    TLSDatabase
}
