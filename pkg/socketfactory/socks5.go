package socketfactory

import (
	"net"

	"golang.org/x/net/proxy"
)

// newSOCKS5Dialer wraps golang.org/x/net/proxy's SOCKS5 client dialer.
// The teacher declared this dependency but implemented SOCKS5 framing by
// hand in connectViaSOCKS5Proxy; this adapts it to actually call the
// library.
func newSOCKS5Dialer(proxyAddr string, forward *net.Dialer) (proxy.Dialer, error) {
	if forward.Timeout == 0 {
		d := *forward
		d.Timeout = dialTimeout
		forward = &d
	}
	return proxy.SOCKS5("tcp", proxyAddr, nil, forward)
}
