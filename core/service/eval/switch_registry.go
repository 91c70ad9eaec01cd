package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"switch_server/core/domain"
	"switch_server/core/port/out"
	"switch_server/pkg/apperr"
)

// Registry maps switch identity to rule configuration and current state.
// It is owned by the scheduler and passed by handle to whoever needs it;
// there is no ambient singleton. Rules persist through the RuleStore,
// states are ephemeral and recomputed every tick.
type Registry struct {
	store out.RuleStore

	mu     sync.RWMutex
	rules  map[string]domain.SwitchRule
	states map[string]domain.SwitchState
}

// NewRegistry builds a registry and loads persisted rules.
func NewRegistry(ctx context.Context, store out.RuleStore) (*Registry, error) {
	r := &Registry{
		store:  store,
		rules:  make(map[string]domain.SwitchRule),
		states: make(map[string]domain.SwitchState),
	}

	rules, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load switch rules: %w", err)
	}
	for _, rule := range rules {
		r.rules[rule.SwitchID] = *rule
	}
	return r, nil
}

// UpsertRule validates, persists and registers a rule.
func (r *Registry) UpsertRule(ctx context.Context, rule domain.SwitchRule) error {
	if rule.SwitchID == "" {
		return apperr.InvalidInput("switch_id", "must not be empty")
	}
	if !rule.Provider.Valid() {
		return apperr.InvalidInput("provider", fmt.Sprintf("unknown provider %q", rule.Provider))
	}
	rule.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rules[rule.SwitchID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = time.Now()
	}
	rule.UpdatedAt = time.Now()

	if err := r.store.Save(ctx, &rule); err != nil {
		return fmt.Errorf("failed to persist rule: %w", err)
	}
	r.rules[rule.SwitchID] = rule
	return nil
}

// RemoveRule deletes a switch. This is the only destructive transition a
// switch has; its state goes with it.
func (r *Registry) RemoveRule(ctx context.Context, switchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[switchID]; !ok {
		return apperr.NotFound("switch")
	}
	if err := r.store.Delete(ctx, switchID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	delete(r.rules, switchID)
	delete(r.states, switchID)
	return nil
}

// Rule returns the rule for a switch.
func (r *Registry) Rule(switchID string) (domain.SwitchRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[switchID]
	return rule, ok
}

// Rules returns all rules, ordered by switch ID for deterministic ticks.
func (r *Registry) Rules() []domain.SwitchRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]domain.SwitchRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].SwitchID < rules[j].SwitchID })
	return rules
}

// ProvidersInUse returns the distinct providers across all rules, in the
// stable domain order.
func (r *Registry) ProvidersInUse() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.Provider]bool, len(r.rules))
	for _, rule := range r.rules {
		seen[rule.Provider] = true
	}
	providers := make([]domain.Provider, 0, len(seen))
	for _, p := range domain.Providers {
		if seen[p] {
			providers = append(providers, p)
		}
	}
	return providers
}

// ReplaceState swaps in a freshly computed state wholesale so stale fields
// cannot outlive a rule change.
func (r *Registry) ReplaceState(state domain.SwitchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[state.SwitchID]; !ok {
		return // switch removed while evaluation was in flight
	}
	r.states[state.SwitchID] = state
}

// State returns the last computed state for a switch.
func (r *Registry) State(switchID string) (domain.SwitchState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[switchID]
	return state, ok
}

// AnnotateError keeps the last known good state visible but stamps the
// error onto it, so a fetch failure never blanks out previously known
// active/upcoming data.
func (r *Registry) AnnotateError(switchID string, now time.Time, errMsg string) domain.SwitchState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.states[switchID]
	state.SwitchID = switchID
	state.LastEvaluatedAt = now
	state.LastError = errMsg
	r.states[switchID] = state
	return state
}
