// Package keepalive decides whether a connection may be reused for
// another request after a given message completes, per the HTTP/1.x
// persistence rules of RFC 7230 section 6.3. It depends only on a
// minimal Message view so it has no dependency on an HTTP/1 message
// codec, which stays outside this module.
package keepalive

import "strings"

// Message is the minimal view of a completed request/response exchange
// keepalive needs: protocol version, request method, the Connection
// header, and the response status.
type Message interface {
	// Proto returns the HTTP major/minor version of the message.
	Proto() (major, minor int)
	// Method returns the request method ("GET", "CONNECT", ...).
	Method() string
	// Header returns the first value of the named header,
	// case-insensitively, or "" if absent.
	Header(name string) string
	// StatusCode returns the response status code.
	StatusCode() int
}

// Persistent reports whether the connection a message was exchanged over
// may be reused for a subsequent request.
//
//   - HTTP/1.1 defaults to persistent unless "Connection: close" appears.
//   - HTTP/1.0 defaults to non-persistent unless "Connection: keep-alive"
//     appears.
//   - A "close" token in the value msg.Header("Connection") returns always
//     wins.
//   - A successful CONNECT response (2xx) is never persistent in the
//     ordinary sense: the socket becomes a tunnel, handled separately by
//     TunnelHandshake rather than by returning the connection to a pool.
func Persistent(msg Message) bool {
	if msg.Method() == "CONNECT" && msg.StatusCode() >= 200 && msg.StatusCode() < 300 {
		return false
	}

	if hasClose(msg.Header("Connection")) {
		return false
	}

	major, minor := msg.Proto()
	if major > 1 || (major == 1 && minor >= 1) {
		return true
	}

	// HTTP/1.0 and earlier: persistence is opt-in.
	return hasToken(msg.Header("Connection"), "keep-alive")
}

func hasClose(connectionHeader string) bool {
	return hasToken(connectionHeader, "close")
}

func hasToken(header, token string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
