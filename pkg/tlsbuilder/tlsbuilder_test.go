package tlsbuilder

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

	"github.com/relayhttp/httpconn/pkg/cerr"
	"github.com/relayhttp/httpconn/pkg/endpoint"
	"github.com/relayhttp/httpconn/pkg/events"
	"github.com/relayhttp/httpconn/pkg/socketprops"
)

func selfSignedServerCert(t *testing.T, host string) tls.Certificate {
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

func startTLSServer(t *testing.T, cert tls.Certificate) string {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
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
	return ln.Addr().String()
}

func TestBuildRejectsUntrustedCertByDefault(t *testing.T) {
	cert := selfSignedServerCert(t, "conn-test.local")
	addr := startTLSServer(t, cert)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ep := endpoint.Endpoint{Host: "conn-test.local", Port: 443}
	_, err = Build(context.Background(), conn, ep, &socketprops.SocketProperties{}, Hooks{})
	if err == nil {
		t.Fatal("expected handshake to fail for an untrusted self-signed cert")
	}
	if cerr.Of(err) != cerr.Tls {
		t.Errorf("Of(err) = %v, want Tls", cerr.Of(err))
	}
}

func TestBuildAcceptsViaCertAccumulator(t *testing.T) {
	cert := selfSignedServerCert(t, "conn-test.local")
	addr := startTLSServer(t, cert)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var acc events.CertAccumulator
	acc.Subscribe(func(*x509.Certificate, x509.VerifyOptions, error) bool { return true })

	ep := endpoint.Endpoint{Host: "conn-test.local", Port: 443}
	tlsConn, err := Build(context.Background(), conn, ep, &socketprops.SocketProperties{}, Hooks{AcceptCertificate: &acc})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tlsConn.Close()
}

func TestBuildNotifiesPeerCertificateChanged(t *testing.T) {
	cert := selfSignedServerCert(t, "conn-test.local")
	addr := startTLSServer(t, cert)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var acc events.CertAccumulator
	acc.Subscribe(func(*x509.Certificate, x509.VerifyOptions, error) bool { return true })

	var notified *x509.Certificate
	ep := endpoint.Endpoint{Host: "conn-test.local", Port: 443}
	tlsConn, err := Build(context.Background(), conn, ep, &socketprops.SocketProperties{}, Hooks{
		AcceptCertificate:      &acc,
		PeerCertificateChanged: func(c *x509.Certificate) { notified = c },
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tlsConn.Close()

	if notified == nil {
		t.Error("expected PeerCertificateChanged to be called")
	}
}
