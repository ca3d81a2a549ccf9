// Package socketfactory establishes the plain-TCP byte stream a
// Connection layers TLS (or raw HTTP/1.x) on top of: direct dial,
// HTTP-CONNECT-tunneling proxy, or SOCKS5 proxy, reporting transport
// events as it goes.
//
// Grounded on transport.Connect / connectTCP / connectViaHTTPProxy /
// connectViaSOCKS5Proxy in the teacher, generalized from the teacher's
// host-pool orchestration down to "dial one endpoint, report what
// happened" since pooling is a session-level concern this core does not
// own.
package socketfactory

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayhttp/httpconn/pkg/cerr"
	"github.com/relayhttp/httpconn/pkg/endpoint"
	"github.com/relayhttp/httpconn/pkg/events"
	"github.com/relayhttp/httpconn/pkg/socketprops"
)

// Factory dials endpoints according to a fixed set of SocketProperties.
type Factory struct {
	props *socketprops.SocketProperties
	log   zerolog.Logger
}

// New returns a Factory bound to props. A zero zerolog.Logger (the
// package default) logs nothing.
func New(props *socketprops.SocketProperties, log zerolog.Logger) *Factory {
	return &Factory{props: props, log: log}
}

// Result carries the dialed connection plus whatever the proxy
// negotiation discovered: the proxy address used, if any, and whether it
// requires a CONNECT tunnel handshake before the caller can treat the
// connection as talking directly to ep.
type Result struct {
	Conn      net.Conn
	ProxyAddr string
	// ViaHTTPProxy is true when ProxyAddr was reached via an HTTP CONNECT
	// tunnel: the caller (Connection) must still perform the CONNECT
	// exchange itself, since request/response framing is outside this
	// package's scope.
	ViaHTTPProxy bool
}

// Dial establishes a plain TCP byte stream to ep, routing through a
// proxy per f.props.ProxyPolicy. It emits Resolving (only when ep needs a
// DNS lookup), Connecting, and Proxying as appropriate via emit.
func (f *Factory) Dial(ctx context.Context, ep endpoint.Endpoint, emit *events.Emitter) (Result, error) {
	dialer := &net.Dialer{
		Timeout:   f.props.DialTimeout,
		LocalAddr: f.props.LocalAddr,
	}

	addr, scheme, err := f.resolveProxy(ctx, ep)
	if err != nil {
		// Proxy-URI resolution failure is logged and treated as "no
		// proxy", not raised: see DESIGN.md Open Question 3.
		f.log.Warn().Err(err).Str("endpoint", ep.String()).Msg("proxy resolution failed, connecting directly")
		addr, scheme = "", ""
	}

	if addr == "" {
		return f.dialDirect(ctx, dialer, ep, emit)
	}

	switch scheme {
	case "socks5":
		return f.dialSOCKS5(ctx, dialer, addr, ep, emit)
	default:
		return f.dialViaHTTPProxy(ctx, dialer, addr, ep, emit)
	}
}

func (f *Factory) resolveProxy(ctx context.Context, ep endpoint.Endpoint) (addr, scheme string, err error) {
	switch f.props.ProxyPolicy {
	case socketprops.ProxyDisabled:
		return "", "", nil
	case socketprops.ProxyExplicit:
		if f.props.ProxyResolver == nil {
			return "", "", nil
		}
		return f.props.ProxyResolver.Resolve(ctx, ep.Host, ep.Port)
	default: // ProxyUseDefault
		return "", "", nil
	}
}

func (f *Factory) dialDirect(ctx context.Context, dialer *net.Dialer, ep endpoint.Endpoint, emit *events.Emitter) (Result, error) {
	if ep.NeedsResolution() {
		emit.Emit(events.Resolving, nil)
	}
	emit.Emit(events.Connecting, nil)

	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, cerr.NewCancelled("dial", ctx.Err())
		}
		return Result{}, cerr.NewTcp("dial", ep.Addr(), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return Result{Conn: conn}, nil
}

func (f *Factory) dialViaHTTPProxy(ctx context.Context, dialer *net.Dialer, proxyAddr string, ep endpoint.Endpoint, emit *events.Emitter) (Result, error) {
	emit.Emit(events.Connecting, nil)
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, cerr.NewCancelled("dial", ctx.Err())
		}
		return Result{}, cerr.NewTcp("dial", proxyAddr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	// An HTTP proxy is an application-level proxy-address, returned to the
	// caller rather than transparently tunneled: no Proxying event here,
	// unlike the SOCKS5 path below, which is negotiated at this layer.
	return Result{Conn: conn, ProxyAddr: proxyAddr, ViaHTTPProxy: true}, nil
}

func (f *Factory) dialSOCKS5(ctx context.Context, dialer *net.Dialer, proxyAddr string, ep endpoint.Endpoint, emit *events.Emitter) (Result, error) {
	emit.Emit(events.Connecting, nil)
	emit.Emit(events.Proxying, nil)

	socksDialer, err := newSOCKS5Dialer(proxyAddr, dialer)
	if err != nil {
		return Result{}, cerr.NewAddress("socks5-dial", proxyAddr, err)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := socksDialer.Dial("tcp", ep.Addr())
		ch <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, cerr.NewCancelled("socks5-dial", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return Result{}, cerr.NewTcp("socks5-dial", proxyAddr, r.err)
		}
		return Result{Conn: r.conn, ProxyAddr: proxyAddr}, nil
	}
}

// dialTimeout is used by newSOCKS5Dialer's net.Dialer fallback when the
// caller's dialer has no explicit timeout set.
const dialTimeout = 10 * time.Second
