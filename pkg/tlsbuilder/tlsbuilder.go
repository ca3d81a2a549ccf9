// Package tlsbuilder layers a TLS client handshake on top of an
// already-established net.Conn, wiring certificate acceptance through an
// accumulator instead of crypto/tls's binary accept-or-reject, since
// crypto/tls has no native "ask the application" hook the way the
// originating GIO TLS layer does.
//
// Grounded on transport.upgradeTLS and pkg/tlsconfig's version/cipher
// profile helpers, reused for SNI and version configuration.
package tlsbuilder

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/relayhttp/httpconn/pkg/cerr"
	"github.com/relayhttp/httpconn/pkg/endpoint"
	"github.com/relayhttp/httpconn/pkg/events"
	"github.com/relayhttp/httpconn/pkg/socketprops"
	"github.com/relayhttp/httpconn/pkg/tlsconfig"
)

// Hooks lets the Connection vet a certificate that failed default
// verification and learn the peer's leaf certificate. PeerCertificateChanged
// is called once, after a successful handshake; later renegotiation or
// resumption does not call it again.
type Hooks struct {
	AcceptCertificate      *events.CertAccumulator
	PeerCertificateChanged func(*x509.Certificate)
}

// Build performs a TLS client handshake over conn, identifying the server
// as ep.ServerName(). On success it returns the established *tls.Conn.
// A positive props.TLSHandshakeTimeout bounds the handshake. Failure is
// always a *cerr.Error: Cancelled when ctx (or that timeout) ends first,
// Tls for any handshake failure, including certificate rejection and a
// failing TLSInteraction (whose TlsInit error is kept as the cause).
func Build(ctx context.Context, conn net.Conn, ep endpoint.Endpoint, props *socketprops.SocketProperties, hooks Hooks) (*tls.Conn, error) {
	cfg, err := configFor(ep, props, hooks)
	if err != nil {
		return nil, err
	}

	if props.TLSHandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, props.TLSHandshakeTimeout)
		defer cancel()
	}

	tlsConn := tls.Client(conn, cfg)

	done := make(chan error, 1)
	go func() { done <- tlsConn.HandshakeContext(ctx) }()

	select {
	case <-ctx.Done():
		tlsConn.Close()
		return nil, cerr.NewCancelled("tls-handshake", ctx.Err())
	case err := <-done:
		if err != nil {
			tlsConn.Close()
			return nil, cerr.NewTls("handshake", ep.String(), err)
		}
	}

	if hooks.PeerCertificateChanged != nil {
		if state := tlsConn.ConnectionState(); len(state.PeerCertificates) > 0 {
			hooks.PeerCertificateChanged(state.PeerCertificates[0])
		}
	}

	return tlsConn, nil
}

// configFor builds the *tls.Config used for one handshake. Callers never
// mutate a shared config: a fresh one is derived per-connection from
// props.TLSConfig.Clone() when supplied, matching the
// clone-before-mutate pattern the teacher uses in upgradeTLS.
func configFor(ep endpoint.Endpoint, props *socketprops.SocketProperties, hooks Hooks) (*tls.Config, error) {
	var cfg *tls.Config
	if props.TLSConfig != nil {
		cfg = props.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}

	cfg.ServerName = ep.ServerName()
	tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileSecure)
	tlsconfig.ApplyCipherSuites(cfg, cfg.MinVersion)

	if props.TLSDatabase.Roots != nil {
		cfg.RootCAs = props.TLSDatabase.Roots
	}

	if props.TLSInteraction != nil {
		serverName := ep.ServerName()
		cfg.GetClientCertificate = func(_ *tls.CertificateRequestInfo) (*tls.Certificate, error) {
			cert, err := props.TLSInteraction.ClientCertificate(context.Background(), serverName)
			if err != nil {
				return nil, cerr.NewTlsInit("client-certificate", serverName, err)
			}
			return cert, nil
		}
	}

	// crypto/tls has no standalone accept-certificate signal, so default
	// verification is disabled and re-run manually: a failure is handed to
	// the accumulator instead of failing the handshake outright.
	cfg.InsecureSkipVerify = true
	acc := hooks.AcceptCertificate
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		leaf, chain, verifyErr := verifyChain(rawCerts, cfg)
		if verifyErr == nil {
			return nil
		}
		if acc != nil && acc.Decide(leaf, chain, verifyErr) {
			return nil
		}
		return verifyErr
	}

	return cfg, nil
}

func verifyChain(rawCerts [][]byte, cfg *tls.Config) (*x509.Certificate, x509.VerifyOptions, error) {
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, x509.VerifyOptions{}, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, x509.VerifyOptions{}, cerr.NewTls("verify", cfg.ServerName, nil)
	}

	opts := x509.VerifyOptions{
		DNSName:       cfg.ServerName,
		Roots:         cfg.RootCAs,
		Intermediates: x509.NewCertPool(),
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}

	_, err := certs[0].Verify(opts)
	return certs[0], opts, err
}
