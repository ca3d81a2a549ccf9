package httpconn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayhttp/httpconn/pkg/connstate"
	"github.com/relayhttp/httpconn/pkg/endpoint"
	"github.com/relayhttp/httpconn/pkg/events"
	"github.com/relayhttp/httpconn/pkg/socketprops"
)

// staticResolver always resolves to the same proxy address and scheme, a
// stand-in for a session's Resolver.
type staticResolver struct {
	addr   string
	scheme string
}

func (r staticResolver) Resolve(ctx context.Context, host string, port int) (string, string, error) {
	return r.addr, r.scheme, nil
}

type fakeMsg struct {
	method     string
	status     int
	connection string
}

func (f *fakeMsg) Proto() (int, int) { return 1, 1 }
func (f *fakeMsg) Method() string    { return f.method }
func (f *fakeMsg) StatusCode() int   { return f.status }
func (f *fakeMsg) Header(name string) string {
	if name == "Connection" {
		return f.connection
	}
	return ""
}

func listenTCP(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func acceptAndHold(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						c.Close()
						return
					}
				}
			}()
		}
	}()
}

func TestConnectPlain(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	props := &socketprops.SocketProperties{DialTimeout: 2 * time.Second}
	c := New(ep, props, zerolog.Nop(), nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if c.State() != connstate.InUse {
		t.Errorf("State() = %v, want InUse", c.State())
	}
	if c.RemoteAddr() == nil {
		t.Error("RemoteAddr should be set after Connect")
	}
}

func TestConnectTwiceFails(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("second Connect should fail, a connection connects once")
	}
}

func TestSetInUseReturnCyclesToIdleThenDisconnects(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	msg := &fakeMsg{method: "GET", status: 200}
	if err := c.SetupMessageIO(msg); err != nil {
		t.Fatalf("SetupMessageIO: %v", err)
	}
	if err := c.MessageDone(msg); err != nil {
		t.Fatalf("MessageDone: %v", err)
	}

	if err := c.SetInUse(false); err != nil {
		t.Fatalf("SetInUse(false): %v", err)
	}
	if c.State() != connstate.Idle {
		t.Fatalf("State() = %v, want Idle (GET with no Connection header is persistent)", c.State())
	}

	msg2 := &fakeMsg{method: "GET", status: 200, connection: "close"}
	c.SetInUse(true)
	if err := c.SetupMessageIO(msg2); err != nil {
		t.Fatalf("SetupMessageIO msg2: %v", err)
	}
	if err := c.MessageDone(msg2); err != nil {
		t.Fatalf("MessageDone msg2: %v", err)
	}
	c.SetInUse(false)

	if c.State() != connstate.Disconnected {
		t.Errorf("State() = %v, want Disconnected after Connection: close", c.State())
	}
}

func TestDisconnectedFiresOnce(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	c.Connect(context.Background())

	var fired int
	c.Disconnected().Subscribe(func() { fired++ })

	c.Disconnect()
	c.Disconnect()
	c.Disconnect()

	if fired != 1 {
		t.Errorf("Disconnected fired %d times, want 1", fired)
	}
}

func TestIdleTimerDisconnectsAfterGrace(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second, IdleTimeout: 20 * time.Millisecond}, zerolog.Nop(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.SetReusable()
	if err := c.SetInUse(false); err != nil {
		t.Fatalf("SetInUse(false): %v", err)
	}
	if c.State() != connstate.Idle {
		t.Fatalf("State() = %v, want Idle", c.State())
	}

	time.Sleep(80 * time.Millisecond)
	if c.State() != connstate.Disconnected {
		t.Errorf("State() = %v, want Disconnected once idle grace elapses", c.State())
	}
}

func TestIsIdleOpenHealthy(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	c.Connect(context.Background())
	c.SetReusable()
	c.SetInUse(false)

	ok, err := c.IsIdleOpen()
	if err != nil {
		t.Fatalf("IsIdleOpen: %v", err)
	}
	if !ok {
		t.Error("freshly idle connection to a live peer should report healthy")
	}
}

func TestIsIdleOpenRejectsWhenNotIdle(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	c.Connect(context.Background())

	if _, err := c.IsIdleOpen(); err == nil {
		t.Error("IsIdleOpen should reject a connection that is InUse, not Idle")
	}
}

func TestIsIdleOpenDetectsClosedPeer(t *testing.T) {
	ln, port := listenTCP(t)
	var peer net.Conn
	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			peer = c
			close(accepted)
		}
	}()

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-accepted
	c.SetReusable()
	c.SetInUse(false)

	peer.Close()
	time.Sleep(20 * time.Millisecond)

	ok, err := c.IsIdleOpen()
	if err != nil {
		t.Fatalf("IsIdleOpen: %v", err)
	}
	if ok {
		t.Error("a connection whose peer closed should not report healthy")
	}
}

func selfSignedCert(t *testing.T, host string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestConnectWithTLS(t *testing.T) {
	cert := selfSignedCert(t, "conn-test.local")
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.(*tls.Conn).Handshake()
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	ep := endpoint.Endpoint{Host: "conn-test.local", Port: port, IP: "127.0.0.1"}
	props := &socketprops.SocketProperties{DialTimeout: 2 * time.Second, TLS: true}
	c := New(ep, props, zerolog.Nop(), nil)
	c.AcceptCertificate().Subscribe(func(*x509.Certificate, x509.VerifyOptions, error) bool { return true })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	state, ok := c.TLSConnectionState()
	if !ok {
		t.Fatal("expected a TLS connection state")
	}
	if len(state.PeerCertificates) == 0 {
		t.Error("expected peer certificates in the TLS state")
	}
}

func TestTunnelHandshakeRejectsUnlessInUse(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.SetReusable()
	if err := c.SetInUse(false); err != nil {
		t.Fatalf("SetInUse(false): %v", err)
	}
	if c.State() != connstate.Idle {
		t.Fatalf("State() = %v, want Idle", c.State())
	}

	if err := c.TunnelHandshake(context.Background()); err == nil {
		t.Error("TunnelHandshake should reject a connection that is Idle, not InUse")
	}
}

// tlsAcceptLoop accepts connections on ln and layers a TLS server
// handshake on each, standing in for a proxy that has just completed a
// CONNECT exchange and now carries the origin's TLS bytes.
func tlsAcceptLoop(t *testing.T, ln net.Listener, cert tls.Certificate) {
	t.Helper()
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv := tls.Server(conn, cfg)
			go func() {
				if err := srv.Handshake(); err != nil {
					srv.Close()
					return
				}
				buf := make([]byte, 4096)
				for {
					if _, err := srv.Read(buf); err != nil {
						srv.Close()
						return
					}
				}
			}()
		}
	}()
}

func TestTunnelHandshake(t *testing.T) {
	cert := selfSignedCert(t, "tunnel-test.local")
	ln, _ := listenTCP(t)
	tlsAcceptLoop(t, ln, cert)

	ep := endpoint.Endpoint{Host: "tunnel-test.local", Port: 443, IP: "127.0.0.1"}
	props := &socketprops.SocketProperties{
		DialTimeout:   2 * time.Second,
		TLS:           true,
		ProxyPolicy:   socketprops.ProxyExplicit,
		ProxyResolver: staticResolver{addr: ln.Addr().String(), scheme: "http"},
	}
	c := New(ep, props, zerolog.Nop(), nil)
	c.AcceptCertificate().Subscribe(func(*x509.Certificate, x509.VerifyOptions, error) bool { return true })

	var kinds []events.Kind
	c.Events().Subscribe(func(k events.Kind, _ net.Conn) { kinds = append(kinds, k) })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if c.State() != connstate.InUse {
		t.Fatalf("State() = %v, want InUse after Connect", c.State())
	}
	if !c.IsTunnelled() {
		t.Error("expected IsTunnelled() once TLS is requested through an HTTP proxy")
	}

	if err := c.TunnelHandshake(context.Background()); err != nil {
		t.Fatalf("TunnelHandshake: %v", err)
	}

	if _, ok := c.TLSConnectionState(); !ok {
		t.Error("expected a TLS connection state once the tunnel handshake completes")
	}
	if c.State() != connstate.InUse {
		t.Errorf("State() = %v, want InUse after TunnelHandshake", c.State())
	}

	for _, k := range kinds {
		if k == events.Proxying {
			t.Error("an HTTP CONNECT tunnel should never emit Proxying")
		}
	}
	var sawComplete bool
	for _, k := range kinds {
		if k == events.Complete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("expected a Complete event once the tunnel handshake finishes")
	}
}

func TestIsIdleOpenRejectsPastUnusedDeadline(t *testing.T) {
	ln, port := listenTCP(t)
	acceptAndHold(t, ln)

	ep := endpoint.Endpoint{Host: "127.0.0.1", Port: port, IP: "127.0.0.1"}
	c := New(ep, &socketprops.SocketProperties{DialTimeout: time.Second}, zerolog.Nop(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.SetReusable()
	if err := c.SetInUse(false); err != nil {
		t.Fatalf("SetInUse(false): %v", err)
	}

	// No message was ever attached/completed on this connection, so
	// unusedDeadline is still armed from complete(); force it into the
	// past to simulate the grace period having elapsed unused.
	c.mu.Lock()
	c.unusedDeadline = time.Now().Add(-time.Millisecond)
	c.mu.Unlock()

	ok, err := c.IsIdleOpen()
	if err != nil {
		t.Fatalf("IsIdleOpen: %v", err)
	}
	if ok {
		t.Error("a never-used connection past its unused deadline should not report healthy")
	}
}
