package httpconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayhttp/httpconn/pkg/cerr"
	"github.com/relayhttp/httpconn/pkg/connmetrics"
	"github.com/relayhttp/httpconn/pkg/connstate"
	"github.com/relayhttp/httpconn/pkg/constants"
	"github.com/relayhttp/httpconn/pkg/endpoint"
	"github.com/relayhttp/httpconn/pkg/events"
	"github.com/relayhttp/httpconn/pkg/idletimer"
	"github.com/relayhttp/httpconn/pkg/keepalive"
	"github.com/relayhttp/httpconn/pkg/socketfactory"
	"github.com/relayhttp/httpconn/pkg/socketprops"
	"github.com/relayhttp/httpconn/pkg/tlsbuilder"
)

var idSeq atomic.Uint64

// Connection is one client-side HTTP/1.x connection: the byte stream, its
// optional TLS layer, its proxy relationship, and the lifecycle state
// that governs whether a session may reuse or must discard it.
//
// Grounded on soup_connection_connect_async / soup_connection_connected /
// soup_connection_complete / soup_connection_disconnect / tunnel_handshake
// in original_source/libsoup/soup-connection.c, and on the teacher's
// Transport.Connect for the Go-level orchestration (sequential steps,
// each returning a wrapped error on failure) rather than GObject's
// async-operation-plus-callback style.
type Connection struct {
	id       uint64
	endpoint endpoint.Endpoint
	props    *socketprops.SocketProperties
	log      zerolog.Logger
	metrics  *connmetrics.Collector

	events     events.Emitter
	certAccept events.CertAccumulator
	disconn    events.Once

	state *connstate.Machine
	idle  *idletimer.Timer

	mu         sync.Mutex
	conn       net.Conn
	tlsConn    *tls.Conn
	proxyAddr  string
	tunnelled  bool // ssl && a proxy tunnel sits in front of it
	remoteAddr net.Addr
	everUsed   bool
	currentMsg keepalive.Message
	closed     bool
	cancelFn   context.CancelFunc
	// unusedDeadline is armed on completion and cleared at the first
	// message's body-end; once it has passed while still armed, IsIdleOpen
	// refuses to vouch for a connection nobody has actually used yet, no
	// matter how healthy its socket looks.
	unusedDeadline time.Time
}

// New creates a Connection in the New state. It does not dial; call
// Connect to do that.
func New(ep endpoint.Endpoint, props *socketprops.SocketProperties, log zerolog.Logger, metrics *connmetrics.Collector) *Connection {
	if props == nil {
		props = &socketprops.SocketProperties{}
	}
	c := &Connection{
		id:       idSeq.Add(1),
		endpoint: ep,
		props:    props,
		log:      log,
		metrics:  metrics,
	}
	c.state = connstate.NewMachine(c.onEnterIdle, c.onLeaveIdle)
	// IdleTimeout == 0 means "no idle timer": idletimer.New/Start already
	// treat a non-positive duration as a permanent no-op.
	c.idle = idletimer.New(props.IdleTimeout, c.fireIdleTimeout)
	c.events.Subscribe(func(kind events.Kind, _ net.Conn) { c.metrics.ObserveEvent(kind) })
	return c
}

// ID returns the connection's process-local identifier.
func (c *Connection) ID() uint64 { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() connstate.State { return c.state.State() }

// Events returns the emitter subscribers can hook to observe transport
// progress (resolving, connecting, proxying, tls-handshaking, ...).
func (c *Connection) Events() *events.Emitter { return &c.events }

// AcceptCertificate returns the accumulator subscribers register on to
// vet a peer certificate that failed default verification.
func (c *Connection) AcceptCertificate() *events.CertAccumulator { return &c.certAccept }

// Disconnected returns the signal fired exactly once, the first time
// this connection disconnects.
func (c *Connection) Disconnected() *events.Once { return &c.disconn }

// RemoteAddr returns the address of the remote party, valid once
// Connect has completed.
func (c *Connection) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// ProxyAddr returns the proxy address in use, or "" if connecting
// directly.
func (c *Connection) ProxyAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxyAddr
}

// IsViaProxy reports whether this connection runs through a proxy.
func (c *Connection) IsViaProxy() bool { return c.ProxyAddr() != "" }

// IsTunnelled reports whether this is a TLS connection carried inside an
// HTTP CONNECT tunnel, per soup_connection_is_tunnelled (ssl && proxy_uri
// != NULL).
func (c *Connection) IsTunnelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunnelled && c.proxyAddr != ""
}

// EverUsed reports whether this connection has completed at least one
// message exchange, per soup_connection_get_ever_used.
func (c *Connection) EverUsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.everUsed
}

// TLSConnectionState returns the negotiated TLS state and true, or the
// zero value and false if this connection never upgraded to TLS.
func (c *Connection) TLSConnectionState() (tls.ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tlsConn == nil {
		return tls.ConnectionState{}, false
	}
	return c.tlsConn.ConnectionState(), true
}

// Connect dials the endpoint, negotiates any proxy, and performs the TLS
// handshake if configured, leaving the connection ready for its first
// message (state InUse). It is the primary, blocking form; ConnectAsync
// wraps it for callers that want a channel instead.
//
// A connection may only be connected once: Connect must be called from
// the New state.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.state.Transition("Connect", connstate.Connecting); err != nil {
		return err
	}
	c.metrics.ObserveTransition(connstate.New, connstate.Connecting)

	ctx, cancel := context.WithCancel(ctx)
	if err := c.setCancel(cancel); err != nil {
		cancel()
		return err
	}
	defer c.clearCancel()

	factory := socketfactory.New(c.props, c.log)
	res, err := factory.Dial(ctx, c.endpoint, &c.events)
	if err != nil {
		c.state.Transition("Connect", connstate.Disconnected)
		return err
	}

	c.mu.Lock()
	c.conn = res.Conn
	c.proxyAddr = res.ProxyAddr
	c.remoteAddr = res.Conn.RemoteAddr()
	c.mu.Unlock()

	if c.props.TLS && !res.ViaHTTPProxy {
		if err := c.handshakeTLS(ctx, res.Conn); err != nil {
			c.mu.Lock()
			c.conn.Close()
			c.mu.Unlock()
			c.state.Transition("Connect", connstate.Disconnected)
			return err
		}
	}

	c.mu.Lock()
	c.tunnelled = c.props.TLS && res.ViaHTTPProxy
	c.mu.Unlock()

	return c.complete()
}

// ConnectAsync is the channel-based wrapper around Connect, for callers
// that prefer not to block on it directly.
func (c *Connection) ConnectAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.Connect(ctx) }()
	return ch
}

// TunnelHandshake performs the TLS handshake for a connection whose
// Connect established a plain CONNECT tunnel to a proxy (IsTunnelled
// candidates: TLS requested, proxy in use, handshake deferred). It may
// only be called once, after Connect has completed and while no other
// cancellable operation is outstanding.
//
// Grounded on tunnel_handshake/tunnel_handshake_async in
// soup-connection.c, which requires a plain socket connection and no
// outstanding cancellable.
func (c *Connection) TunnelHandshake(ctx context.Context) error {
	if c.state.State() != connstate.InUse {
		return cerr.NewUsage("TunnelHandshake", "connection must be InUse to perform a tunnel handshake")
	}

	c.mu.Lock()
	if c.tlsConn != nil {
		c.mu.Unlock()
		return cerr.NewUsage("TunnelHandshake", "connection already has a TLS layer")
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return cerr.NewUsage("TunnelHandshake", "connection is not established")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := c.setCancel(cancel); err != nil {
		cancel()
		return err
	}
	defer c.clearCancel()

	if err := c.handshakeTLS(ctx, conn); err != nil {
		return err
	}

	c.mu.Lock()
	c.tunnelled = true
	c.mu.Unlock()

	return c.complete()
}

func (c *Connection) handshakeTLS(ctx context.Context, conn net.Conn) error {
	c.events.Emit(events.TLSHandshaking, conn)
	tlsConn, err := tlsbuilder.Build(ctx, conn, c.endpoint, c.props, tlsbuilder.Hooks{
		AcceptCertificate:      &c.certAccept,
		PeerCertificateChanged: c.onPeerCertificateChanged,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tlsConn = tlsConn
	c.mu.Unlock()

	c.events.Emit(events.TLSHandshaked, tlsConn)
	return nil
}

func (c *Connection) onPeerCertificateChanged(cert *x509.Certificate) {
	c.log.Debug().Uint64("conn_id", c.id).Str("subject", cert.Subject.String()).Msg("peer certificate changed")
}

// complete finishes establishing the connection: arms the unused
// deadline, emits Complete (unless this is the plain leg of a tunnel
// still awaiting TunnelHandshake), and transitions to InUse, matching
// soup_connection_complete. The cancellation token is released by the
// caller's deferred clearCancel once this returns.
func (c *Connection) complete() error {
	c.mu.Lock()
	tunnelPending := c.props.TLS && c.proxyAddr != "" && c.tlsConn == nil
	conn := c.conn
	c.unusedDeadline = time.Now().Add(constants.IdleGrace)
	c.mu.Unlock()

	if !tunnelPending {
		c.events.Emit(events.Complete, conn)
	}

	from := c.state.State()
	if err := c.state.Transition("Connect", connstate.InUse); err != nil {
		return err
	}
	c.metrics.ObserveTransition(from, connstate.InUse)
	return nil
}

// SetInUse records a borrow (acquire=true) or return (acquire=false) of
// this connection. Returning the last outstanding borrow transitions to
// Idle if the connection is reusable, or disconnects it otherwise.
func (c *Connection) SetInUse(acquire bool) error {
	from := c.state.State()
	err := c.state.SetInUse(acquire, func() { c.Disconnect() })
	// Disconnect (called synchronously above, when the connection was not
	// reusable) records its own from->Disconnected transition; recording
	// it again here would double-count.
	if err == nil {
		if to := c.state.State(); to != connstate.Disconnected {
			c.metrics.ObserveTransition(from, to)
		}
	}
	return err
}

// SetReusable marks the connection as eligible for reuse once returned.
// It takes no argument because the behavior it mirrors always sets the
// flag true; see DESIGN.md Open Question 1.
func (c *Connection) SetReusable() { c.state.MarkReusable() }

// SetupMessageIO attaches msg as the connection's current message,
// before it is written. Replacing an already-attached message is only
// legal when that message is the CONNECT tunnel request, per
// soup_connection_setup_message_io.
func (c *Connection) SetupMessageIO(msg keepalive.Message) error {
	state := c.state.State()
	if state == connstate.New || state == connstate.Disconnected {
		return cerr.NewUsage("SetupMessageIO", "connection is not ready for message I/O")
	}

	c.mu.Lock()
	if c.currentMsg != nil && c.currentMsg != msg {
		if c.currentMsg.Method() != "CONNECT" {
			c.mu.Unlock()
			return cerr.NewUsage("SetupMessageIO", "cannot replace a message other than an outstanding CONNECT tunnel request")
		}
	}
	c.currentMsg = msg
	conn := c.conn
	proxyAddr := c.proxyAddr
	c.mu.Unlock()

	c.state.ClearReusable()

	if msg.Method() == "CONNECT" && proxyAddr != "" {
		c.events.Emit(events.ProxyNegotiating, conn)
	}
	return nil
}

// MessageDone reports that msg's body has been fully read, the point at
// which the connection's reusability for a subsequent message is
// decided. Grounded on current_msg_got_body.
func (c *Connection) MessageDone(msg keepalive.Message) error {
	c.mu.Lock()
	if c.currentMsg != msg {
		c.mu.Unlock()
		return cerr.NewUsage("MessageDone", "msg is not this connection's current message")
	}
	c.everUsed = true
	c.unusedDeadline = time.Time{}
	isConnectSuccess := msg.Method() == "CONNECT" && msg.StatusCode() >= 200 && msg.StatusCode() < 300 && c.proxyAddr != ""
	conn := c.conn
	c.currentMsg = nil
	if isConnectSuccess {
		c.proxyAddr = ""
	}
	c.mu.Unlock()

	if isConnectSuccess {
		c.events.Emit(events.ProxyNegotiated, conn)
	}

	if keepalive.Persistent(msg) {
		c.state.MarkReusable()
	} else {
		c.state.ClearReusable()
	}
	return nil
}

// IsIdleOpen reports whether an Idle connection's socket is still
// usable, via a non-blocking single-byte read: a read that would block
// means the connection is healthy; anything else (EOF, error, or data
// actually arriving unsolicited) means it is not. Must only be called
// while the connection is Idle.
func (c *Connection) IsIdleOpen() (bool, error) {
	if c.state.State() != connstate.Idle {
		return false, cerr.NewUsage("IsIdleOpen", "connection is not idle")
	}

	c.mu.Lock()
	conn := c.conn
	deadline := c.unusedDeadline
	c.mu.Unlock()
	if conn == nil {
		return false, nil
	}

	// A connection no request has ever used still carries its unused
	// deadline from completion; once that has passed, a quiet socket no
	// longer proves the peer is actually there.
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return false, nil
	}

	conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})

	var buf [1]byte
	n, err := conn.Read(buf[:])
	if n > 0 {
		return false, nil
	}
	if err == nil {
		return false, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true, nil
	}
	return false, nil
}

// StealIOStream hands the caller the raw net.Conn (or, once TLS is
// established, the *tls.Conn) and relinquishes this Connection's
// ownership of it: subsequent Disconnect calls will not close it.
// Grounded on soup_connection_steal_iostream.
func (c *Connection) StealIOStream() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, cerr.NewUsage("StealIOStream", "connection has no established socket")
	}
	conn := c.conn
	if c.tlsConn != nil {
		conn = c.tlsConn
	}
	c.conn = nil
	c.tlsConn = nil
	return conn, nil
}

// Disconnect tears the connection down: cancels any outstanding
// cancellation token, closes the socket, and fires the Disconnected
// signal exactly once across this connection's lifetime, no matter how
// many times Disconnect is called.
func (c *Connection) Disconnect() {
	from := c.state.State()
	c.state.Transition("Disconnect", connstate.Disconnected)
	if from != connstate.Disconnected {
		c.metrics.ObserveTransition(from, connstate.Disconnected)
	}

	c.mu.Lock()
	if c.cancelFn != nil {
		c.cancelFn()
	}
	conn := c.conn
	c.conn = nil
	c.tlsConn = nil
	closed := c.closed
	c.closed = true
	c.mu.Unlock()

	if !closed && conn != nil {
		conn.Close()
	}

	c.disconn.Fire()
}

func (c *Connection) setCancel(cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFn != nil {
		return cerr.NewUsage("connect", "a cancellable operation is already in progress")
	}
	c.cancelFn = cancel
	return nil
}

func (c *Connection) clearCancel() {
	c.mu.Lock()
	c.cancelFn = nil
	c.mu.Unlock()
}

func (c *Connection) onEnterIdle() {
	c.idle.Start()
}

func (c *Connection) onLeaveIdle() {
	c.idle.Stop()
}

func (c *Connection) fireIdleTimeout() {
	c.metrics.ObserveIdleDisconnect()
	c.log.Debug().Uint64("conn_id", c.id).Msg("idle timer fired, disconnecting")
	c.Disconnect()
}
