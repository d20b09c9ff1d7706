// Package proxy builds the HTTP client used for model API calls.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const clientTimeout = 120 * time.Second

// NewClient dials through the SOCKS5 proxy at socksAddr. An empty address
// yields a direct client.
func NewClient(socksAddr string) (*http.Client, error) {
	if socksAddr == "" {
		return &http.Client{Timeout: clientTimeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   clientTimeout,
	}, nil
}
