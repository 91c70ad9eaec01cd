// Package httputil provides pooled HTTP clients for the provider APIs.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	KeepAliveInterval time.Duration
}

// DefaultClientConfig returns sensible defaults for token-endpoint traffic.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     15 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// GoogleClientConfig returns configuration for the Google Calendar API.
func GoogleClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConnsPerHost = 20
	return cfg
}

// GraphClientConfig returns configuration for the Microsoft Graph API.
// Graph throttles more aggressively, so connections stay conservative.
func GraphClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConnsPerHost = 10
	return cfg
}

// NewClient creates an HTTP client with connection pooling and the bounded
// per-call timeout every provider request must carry.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

var (
	defaultClient *http.Client
	googleClient  *http.Client
	graphClient   *http.Client
)

func init() {
	defaultClient = NewClient(DefaultClientConfig())
	googleClient = NewClient(GoogleClientConfig())
	graphClient = NewClient(GraphClientConfig())
}

// DefaultClient returns the shared default HTTP client.
func DefaultClient() *http.Client {
	return defaultClient
}

// GoogleClient returns the shared client for the Google Calendar API.
func GoogleClient() *http.Client {
	return googleClient
}

// GraphClient returns the shared client for the Microsoft Graph API.
func GraphClient() *http.Client {
	return graphClient
}
