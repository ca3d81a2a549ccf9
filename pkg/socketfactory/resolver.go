package socketfactory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/relayhttp/httpconn/pkg/cerr"
)

// StaticResolver always returns the same proxy address and scheme,
// regardless of which endpoint is being dialed. It is the common case: a
// session configured with one upstream proxy for every connection.
type StaticResolver struct {
	Addr   string
	Scheme string // "http" or "socks5"
}

func (r StaticResolver) Resolve(_ context.Context, _ string, _ int) (string, string, error) {
	return r.Addr, r.Scheme, nil
}

// ParseProxyURL parses a proxy URL of the form
// "http://host:port" or "socks5://host:port" into a StaticResolver.
// Adapted from the teacher's client.ParseProxyURL, narrowed to the two
// schemes this core's Factory understands (http CONNECT tunneling and
// socks5); https-to-the-proxy and socks4 are dropped since nothing in
// SocketProperties exposes a place to configure a second TLS layer to the
// proxy itself.
func ParseProxyURL(raw string) (StaticResolver, error) {
	if raw == "" {
		return StaticResolver{}, cerr.NewAddress("parse-proxy-url", raw, fmt.Errorf("empty proxy URL"))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return StaticResolver{}, cerr.NewAddress("parse-proxy-url", raw, err)
	}

	scheme := u.Scheme
	switch scheme {
	case "http", "socks5":
	case "":
		return StaticResolver{}, cerr.NewAddress("parse-proxy-url", raw, fmt.Errorf("missing scheme, want http:// or socks5://"))
	default:
		return StaticResolver{}, cerr.NewAddress("parse-proxy-url", raw, fmt.Errorf("unsupported proxy scheme %q", scheme))
	}

	host := u.Hostname()
	if host == "" {
		return StaticResolver{}, cerr.NewAddress("parse-proxy-url", raw, fmt.Errorf("missing host"))
	}

	port := u.Port()
	if port == "" {
		if scheme == "socks5" {
			port = "1080"
		} else {
			port = "8080"
		}
	} else if _, err := strconv.Atoi(port); err != nil {
		return StaticResolver{}, cerr.NewAddress("parse-proxy-url", raw, fmt.Errorf("invalid port %q", port))
	}

	return StaticResolver{Addr: host + ":" + port, Scheme: scheme}, nil
}
