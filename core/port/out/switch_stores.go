package out

import (
	"context"

	"switch_server/core/domain"
)

// ConnectionStore persists one Connection record per provider in flat
// key-value storage. Get returns (nil, nil) when no record exists.
type ConnectionStore interface {
	Get(ctx context.Context, provider domain.Provider) (*domain.Connection, error)
	Save(ctx context.Context, conn *domain.Connection) error
	Delete(ctx context.Context, provider domain.Provider) error
}

// RuleStore persists one SwitchRule record per switch.
type RuleStore interface {
	Get(ctx context.Context, switchID string) (*domain.SwitchRule, error)
	List(ctx context.Context) ([]*domain.SwitchRule, error)
	Save(ctx context.Context, rule *domain.SwitchRule) error
	Delete(ctx context.Context, switchID string) error
}

// SwitchNotifier delivers freshly computed switch states to the device
// layer. Delivery to one switch must never prevent delivery to others; the
// scheduler aggregates per-switch errors instead of aborting.
type SwitchNotifier interface {
	NotifyState(ctx context.Context, state domain.SwitchState) error
}
