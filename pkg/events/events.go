// Package events provides the three observer primitives a Connection uses
// to report transport progress, to let subscribers vet a TLS peer
// certificate, and to guarantee a single disconnect notification.
//
// Go has no native signal/slot system, so each primitive here is a small
// struct holding a slice of callbacks, guarded by a mutex, in place of a
// GObject signal.
package events

import (
	"crypto/x509"
	"net"
	"sync"
)

// Kind names a point along a connection's setup path.
type Kind string

const (
	Resolving        Kind = "resolving"
	Connecting       Kind = "connecting"
	Proxying         Kind = "proxying"
	ProxyNegotiating Kind = "proxy-negotiating"
	ProxyNegotiated  Kind = "proxy-negotiated"
	TLSHandshaking   Kind = "tls-handshaking"
	TLSHandshaked    Kind = "tls-handshaked"
	Complete         Kind = "complete"
)

// Emitter fans an event out to every subscriber, in subscription order.
// Subscribers must not block.
type Emitter struct {
	mu   sync.Mutex
	subs []func(Kind, net.Conn)
}

// Subscribe registers fn to be called on every future Emit.
func (e *Emitter) Subscribe(fn func(Kind, net.Conn)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// Emit calls every subscriber with kind and the connection it concerns.
func (e *Emitter) Emit(kind Kind, conn net.Conn) {
	e.mu.Lock()
	subs := make([]func(Kind, net.Conn), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(kind, conn)
	}
}

// CertDecision is the signature a subscriber implements to accept or
// reject a peer certificate that failed the default verification.
type CertDecision func(cert *x509.Certificate, opts x509.VerifyOptions, verifyErr error) bool

// CertAccumulator runs subscribers in order and stops at the first one
// that returns true, mirroring a "handled" signal accumulator: any single
// observer accepting the certificate is enough.
type CertAccumulator struct {
	mu   sync.Mutex
	subs []CertDecision
}

// Subscribe registers fn as a certificate-acceptance vote.
func (c *CertAccumulator) Subscribe(fn CertDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Decide runs every subscriber until one returns true, or all return
// false. With no subscribers, the certificate is rejected (the default
// verification failure stands).
func (c *CertAccumulator) Decide(cert *x509.Certificate, opts x509.VerifyOptions, verifyErr error) bool {
	c.mu.Lock()
	subs := make([]CertDecision, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		if fn(cert, opts, verifyErr) {
			return true
		}
	}
	return false
}

// Once fires its subscribers at most once, no matter how many times Fire
// is called.
type Once struct {
	mu   sync.Mutex
	subs []func()
	done bool
}

// Subscribe registers fn to run on the single future Fire call. If Fire
// already ran, fn is never called.
func (o *Once) Subscribe(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.subs = append(o.subs, fn)
}

// Fire runs every subscriber exactly once across the lifetime of this
// Once, regardless of how many times Fire is called.
func (o *Once) Fire() {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	subs := o.subs
	o.subs = nil
	o.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
