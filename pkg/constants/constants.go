// Package constants defines the default tunables used across the
// connection core: dial/handshake timeouts and the unused-connection grace
// period.
package constants

import "time"

// Connection establishment timeouts.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultTLSHandshakeTime = 10 * time.Second
	DefaultIOTimeout        = 30 * time.Second
)

// IdleGrace is the window after connect completion during which a
// connection that has not yet finished any message still passes
// IsIdleOpen; once it has passed, IsIdleOpen reports such a connection
// unusable. It is unrelated to the idle-disconnect timer, which uses
// SocketProperties.IdleTimeout. It intentionally has no exported setter:
// the grace period is a property of this connection core, not a
// session-level tunable.
const IdleGrace = 3 * time.Second
