package provider

import (
	"time"

	"switch_server/core/domain"
	"switch_server/core/port/out"
	"switch_server/pkg/apperr"
)

// Factory resolves provider adapters by enum. Adapters are built once at
// startup and shared; they are safe for concurrent use.
type Factory struct {
	adapters map[domain.Provider]out.CalendarProviderPort
}

// NewFactory builds the adapter set for both providers.
func NewFactory(tokens out.BearerSource, timezone *time.Location, timezoneID string) *Factory {
	return &Factory{
		adapters: map[domain.Provider]out.CalendarProviderPort{
			domain.ProviderGoogle:    NewGoogleCalendarAdapter(tokens, timezone),
			domain.ProviderMicrosoft: NewOutlookCalendarAdapter(tokens, timezone, timezoneID),
		},
	}
}

// ProviderFor returns the adapter for a provider.
func (f *Factory) ProviderFor(provider domain.Provider) (out.CalendarProviderPort, error) {
	adapter, ok := f.adapters[provider]
	if !ok {
		return nil, apperr.InvalidInput("provider", "unsupported provider "+string(provider))
	}
	return adapter, nil
}

// Ensure interface compliance
var _ out.CalendarProviderFactory = (*Factory)(nil)
