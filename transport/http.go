// Package transport builds the HTTP client used to reach the portal.
package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// DefaultTimeout bounds every portal request.
const DefaultTimeout = 10 * time.Second

// BuildHTTPClient creates a client with a whole-request timeout.
// Proxies from the environment are ignored: the portal sits on the local
// network and is unreachable through an upstream proxy before login.
// HTTP/2 is negotiated when the portal is served over TLS.
func BuildHTTPClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0")
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	t1 := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}

	if _, err := http2.ConfigureTransports(t1); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}

	return &http.Client{
		Transport: t1,
		Timeout:   timeout,
	}, nil
}
