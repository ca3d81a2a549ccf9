// Command connect_probe dials a single endpoint, reports the transport
// events observed along the way, and exercises the idle liveness probe
// once the connection is returned to the pool.
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayhttp/httpconn"
)

func main() {
	host := flag.String("host", "example.com", "host to connect to")
	port := flag.Int("port", 443, "port to connect to")
	useTLS := flag.Bool("tls", true, "perform a TLS handshake")
	insecure := flag.Bool("insecure", false, "accept any certificate")
	flag.Parse()

	ep := httpconn.Endpoint{Host: *host, Port: *port}
	props := &httpconn.SocketProperties{
		DialTimeout: 10 * time.Second,
		TLS:         *useTLS,
	}

	conn := httpconn.New(ep, props, zerolog.Nop(), nil)
	conn.Events().Subscribe(func(kind httpconn.EventKind, _ net.Conn) {
		fmt.Printf("[event] %s\n", kind)
	})
	if *insecure {
		conn.AcceptCertificate().Subscribe(func(*x509.Certificate, x509.VerifyOptions, error) bool { return true })
	}

	if err := conn.Connect(context.Background()); err != nil {
		fmt.Printf("connect failed: %v\n", err)
		return
	}
	defer conn.Disconnect()

	fmt.Printf("connected: remote=%s state=%s via_proxy=%v tunnelled=%v\n",
		conn.RemoteAddr(), conn.State(), conn.IsViaProxy(), conn.IsTunnelled())

	conn.SetReusable()
	if err := conn.SetInUse(false); err != nil {
		fmt.Printf("release failed: %v\n", err)
		return
	}

	healthy, err := conn.IsIdleOpen()
	if err != nil {
		fmt.Printf("idle probe failed: %v\n", err)
		return
	}
	fmt.Printf("idle probe: healthy=%v\n", healthy)
}
