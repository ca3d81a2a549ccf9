// Package cerr provides the structured error taxonomy used by connection
// core operations: address resolution, TCP dial, TLS setup and post-
// handshake failures, protocol violations, cancellation, and programmer
// misuse of the API.
package cerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind categorizes a failure the way a caller needs to branch on it:
// retry a dial, surface a cert prompt, or treat it as a bug.
type Kind string

const (
	// Address covers hostname/endpoint resolution failures, including a
	// proxy address that failed to parse.
	Address Kind = "address"
	// Tcp covers failures establishing or using the underlying TCP byte
	// stream: dial refusal, proxy CONNECT rejection, read/write errors.
	Tcp Kind = "tcp"
	// TlsInit covers failures configuring or starting a TLS handshake
	// before any bytes are exchanged with the peer.
	TlsInit Kind = "tls_init"
	// Tls covers failures during or after the TLS handshake itself:
	// certificate rejection, protocol alerts, version mismatch.
	Tls Kind = "tls"
	// Protocol covers violations of the proxy CONNECT response framing
	// or other wire-level expectations this core enforces directly.
	Protocol Kind = "protocol"
	// Cancelled covers operations aborted via context or an explicit
	// Disconnect racing a connect in progress.
	Cancelled Kind = "cancelled"
	// Usage covers calls that violate the connection's state-machine
	// contract: the caller's bug, not a transport failure.
	Usage Kind = "usage"
)

// Error is the structured error returned by every operation in this
// module. It is always a non-nil *Error, never the bare error interface,
// so callers can switch on Kind without a type assertion failing.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	Addr      string
	Timestamp time.Time
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Addr != "" {
		s += " " + e.Addr
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind. It does not
// compare Op/Message/Cause, so errors.Is(err, &Error{Kind: Tcp}) is the
// idiomatic way to test "was this a Tcp-kind failure".
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func new_(kind Kind, op, addr string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   fmt.Sprintf(format, args...),
		Cause:     cause,
		Addr:      addr,
		Timestamp: time.Now(),
	}
}

// NewAddress wraps a host/endpoint resolution failure.
func NewAddress(op, addr string, cause error) *Error {
	return new_(Address, op, addr, cause, "failed to resolve address")
}

// NewTcp wraps a TCP dial or proxy-CONNECT failure.
func NewTcp(op, addr string, cause error) *Error {
	return new_(Tcp, op, addr, cause, "tcp connection failed")
}

// NewTlsInit wraps a failure preparing a TLS client connection before any
// handshake bytes are sent.
func NewTlsInit(op, addr string, cause error) *Error {
	return new_(TlsInit, op, addr, cause, "tls setup failed")
}

// NewTls wraps a handshake or post-handshake TLS failure.
func NewTls(op, addr string, cause error) *Error {
	return new_(Tls, op, addr, cause, "tls handshake failed")
}

// NewProtocol wraps a violation of expected wire framing (e.g. a
// malformed CONNECT response).
func NewProtocol(op, addr, message string) *Error {
	return new_(Protocol, op, addr, nil, "%s", message)
}

// NewCancelled wraps a context cancellation or an explicit Disconnect
// that raced an in-flight operation.
func NewCancelled(op string, cause error) *Error {
	return new_(Cancelled, op, "", cause, "operation cancelled")
}

// NewUsage reports a contract violation: an illegal state transition or a
// call made in the wrong lifecycle phase. Op should name the method that
// was misused.
func NewUsage(op, message string) *Error {
	return new_(Usage, op, "", nil, "%s", message)
}

// Fatal reports whether an error represents a programmer mistake rather
// than a transient, retryable transport condition.
func (e *Error) Fatal() bool { return e.Kind == Usage }

// IsCancelled reports whether err is, or wraps, a Cancelled-kind error or
// a context cancellation/deadline.
func IsCancelled(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Kind == Cancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err represents a timed-out operation, whether
// from a context deadline or a net.Error.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Of reports the Kind of err, or the empty Kind if err is not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
