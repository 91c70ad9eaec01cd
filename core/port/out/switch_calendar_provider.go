// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"switch_server/core/domain"
)

// CalendarProviderPort is the outbound port for an external calendar
// provider. One implementation exists per provider; selection happens by
// enum through the factory, never by string comparison in callers.
type CalendarProviderPort interface {
	ProviderType() domain.Provider

	// FetchEvents issues one windowed query against the provider's primary
	// calendar and returns normalized events. Failures come back as typed
	// errors (apperr NOT_CONNECTED / TOKEN_UNAVAILABLE / HTTP_ERROR) and
	// never panic past the adapter boundary.
	FetchEvents(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.NormalizedEvent, error)
}

// CalendarProviderFactory resolves the adapter for a provider.
type CalendarProviderFactory interface {
	ProviderFor(provider domain.Provider) (CalendarProviderPort, error)
}

// BearerSource supplies access tokens to provider adapters. Implemented by
// the OAuth service; adapters never refresh tokens themselves.
type BearerSource interface {
	// AccessToken returns a best-effort bearer token. A stale token may be
	// returned when refresh fails; a 401 from the resource API is then a
	// distinct failure handled by the adapter.
	AccessToken(ctx context.Context, provider domain.Provider) (string, error)

	// Connection returns the stored connection, or nil when none exists.
	Connection(ctx context.Context, provider domain.Provider) (*domain.Connection, error)
}
