// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"switch_server/core/domain"
)

// OAuthService drives the OAuth token lifecycle for provider connections.
type OAuthService interface {
	// AuthorizeURL builds the provider authorization URL with a fresh PKCE
	// challenge and signed state. Each call invalidates any prior in-flight
	// authorization attempt for that provider.
	AuthorizeURL(ctx context.Context, provider domain.Provider) (authURL string, state string, err error)

	// HandleCallback exchanges the authorization code for tokens and stores
	// the resulting connection.
	HandleCallback(ctx context.Context, provider domain.Provider, code, state string) (*domain.Connection, error)

	// Disconnect revokes (best effort) and clears all token material.
	Disconnect(ctx context.Context, provider domain.Provider) error

	// Status reports the current connection status for a provider.
	Status(ctx context.Context, provider domain.Provider) (domain.ConnectionStatus, error)
}

// FetchRequester is the pull-style trigger exposed to the device/UI layer:
// an interactive "test now" action for a single switch. Implementations
// debounce rapid repeated calls.
type FetchRequester interface {
	RequestFetch(ctx context.Context, switchID, reason string) error
}
