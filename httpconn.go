// Package httpconn implements the client side of a single HTTP/1.x
// connection: TCP establishment, optional HTTP or SOCKS5 proxying
// including the CONNECT tunnel, TLS handshake, idle-connection liveness
// probing, and the lifecycle state machine that governs reuse and
// discard decisions. It deliberately does not implement the HTTP/1
// message codec, the higher-level session/request queue, or HTTP/2-HTTP/3
// multiplexing: those are a session's job, layered on top.
package httpconn

import (
	"github.com/relayhttp/httpconn/pkg/cerr"
	"github.com/relayhttp/httpconn/pkg/connstate"
	"github.com/relayhttp/httpconn/pkg/endpoint"
	"github.com/relayhttp/httpconn/pkg/events"
	"github.com/relayhttp/httpconn/pkg/socketprops"
)

// Re-exported so importers rarely need to reach into pkg/... directly.
type (
	// Endpoint is the remote party a Connection dials.
	Endpoint = endpoint.Endpoint

	// SocketProperties configures how a Connection dials and secures its
	// socket.
	SocketProperties = socketprops.SocketProperties

	// ProxyPolicy selects how a Connection resolves its proxy.
	ProxyPolicy = socketprops.ProxyPolicy

	// State is one of the five connection lifecycle states.
	State = connstate.State

	// EventKind names a point along a connection's setup path.
	EventKind = events.Kind

	// Error is the structured error type every operation returns.
	Error = cerr.Error

	// ErrorKind categorizes an Error.
	ErrorKind = cerr.Kind
)

const (
	ProxyUseDefault = socketprops.ProxyUseDefault
	ProxyExplicit   = socketprops.ProxyExplicit
	ProxyDisabled   = socketprops.ProxyDisabled
)

const (
	StateNew          = connstate.New
	StateConnecting   = connstate.Connecting
	StateIdle         = connstate.Idle
	StateInUse        = connstate.InUse
	StateDisconnected = connstate.Disconnected
)

const (
	EventResolving        = events.Resolving
	EventConnecting       = events.Connecting
	EventProxying         = events.Proxying
	EventProxyNegotiating = events.ProxyNegotiating
	EventProxyNegotiated  = events.ProxyNegotiated
	EventTLSHandshaking   = events.TLSHandshaking
	EventTLSHandshaked    = events.TLSHandshaked
	EventComplete         = events.Complete
)

const (
	KindAddress   = cerr.Address
	KindTcp       = cerr.Tcp
	KindTlsInit   = cerr.TlsInit
	KindTls       = cerr.Tls
	KindProtocol  = cerr.Protocol
	KindCancelled = cerr.Cancelled
	KindUsage     = cerr.Usage
)
