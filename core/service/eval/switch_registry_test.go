package eval

import (
	"context"
	"sync"
	"testing"
	"time"

	"switch_server/core/domain"
	"switch_server/pkg/apperr"
)

// stubRuleStore is an in-memory RuleStore for registry tests.
type stubRuleStore struct {
	mu    sync.Mutex
	rules map[string]domain.SwitchRule
}

func newStubRuleStore() *stubRuleStore {
	return &stubRuleStore{rules: make(map[string]domain.SwitchRule)}
}

func (s *stubRuleStore) Get(_ context.Context, switchID string) (*domain.SwitchRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[switchID]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (s *stubRuleStore) List(_ context.Context) ([]*domain.SwitchRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SwitchRule, 0, len(s.rules))
	for id := range s.rules {
		rule := s.rules[id]
		out = append(out, &rule)
	}
	return out, nil
}

func (s *stubRuleStore) Save(_ context.Context, rule *domain.SwitchRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.SwitchID] = *rule
	return nil
}

func (s *stubRuleStore) Delete(_ context.Context, switchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, switchID)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background(), newStubRuleStore())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return r
}

func TestUpsertRuleValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.UpsertRule(ctx, domain.SwitchRule{Provider: domain.ProviderGoogle}); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for empty switch id, got %v", err)
	}
	if err := r.UpsertRule(ctx, domain.SwitchRule{SwitchID: "sw1", Provider: "yahoo"}); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for unknown provider, got %v", err)
	}
}

func TestUpsertRuleNormalizesAndPreservesCreatedAt(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rule := domain.SwitchRule{
		SwitchID:           "sw1",
		Provider:           domain.ProviderGoogle,
		IncludeWords:       []string{"  Standup ", ""},
		MinutesBeforeStart: -10,
	}
	if err := r.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	stored, ok := r.Rule("sw1")
	if !ok {
		t.Fatal("rule not found after upsert")
	}
	if len(stored.IncludeWords) != 1 || stored.IncludeWords[0] != "standup" {
		t.Errorf("expected folded include words, got %v", stored.IncludeWords)
	}
	if stored.MinutesBeforeStart != 0 {
		t.Errorf("expected negative offset clamped to 0, got %d", stored.MinutesBeforeStart)
	}
	created := stored.CreatedAt

	rule.ExcludeWords = []string{"cancelled"}
	if err := r.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	updated, _ := r.Rule("sw1")
	if !updated.CreatedAt.Equal(created) {
		t.Errorf("expected CreatedAt preserved across update, got %v vs %v", updated.CreatedAt, created)
	}
}

func TestRemoveRuleDropsState(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.RemoveRule(ctx, "missing"); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown switch, got %v", err)
	}

	rule := domain.SwitchRule{SwitchID: "sw1", Provider: domain.ProviderGoogle}
	if err := r.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	r.ReplaceState(domain.SwitchState{SwitchID: "sw1", IsActive: true})

	if err := r.RemoveRule(ctx, "sw1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok := r.State("sw1"); ok {
		t.Error("state should be gone after rule removal")
	}
}

func TestReplaceStateSkipsRemovedSwitch(t *testing.T) {
	r := newTestRegistry(t)

	r.ReplaceState(domain.SwitchState{SwitchID: "ghost", IsActive: true})
	if _, ok := r.State("ghost"); ok {
		t.Error("state for unregistered switch should be dropped")
	}
}

func TestAnnotateErrorKeepsLastGoodState(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if err := r.UpsertRule(ctx, domain.SwitchRule{SwitchID: "sw1", Provider: domain.ProviderGoogle}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	good := domain.SwitchState{SwitchID: "sw1", IsActive: true, ActiveCount: 1}
	r.ReplaceState(good)

	now := time.Now()
	annotated := r.AnnotateError("sw1", now, "fetch failed")

	if !annotated.IsActive || annotated.ActiveCount != 1 {
		t.Errorf("annotation should keep previous active data, got %+v", annotated)
	}
	if annotated.LastError != "fetch failed" {
		t.Errorf("expected lastError set, got %q", annotated.LastError)
	}
	if !annotated.LastEvaluatedAt.Equal(now) {
		t.Errorf("expected lastEvaluatedAt stamped, got %v", annotated.LastEvaluatedAt)
	}
}

func TestProvidersInUseStableOrder(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.UpsertRule(ctx, domain.SwitchRule{SwitchID: "sw-ms", Provider: domain.ProviderMicrosoft})
	r.UpsertRule(ctx, domain.SwitchRule{SwitchID: "sw-g", Provider: domain.ProviderGoogle})
	r.UpsertRule(ctx, domain.SwitchRule{SwitchID: "sw-g2", Provider: domain.ProviderGoogle})

	providers := r.ProvidersInUse()
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %v", providers)
	}
	if providers[0] != domain.ProviderGoogle || providers[1] != domain.ProviderMicrosoft {
		t.Errorf("expected stable [google microsoft] order, got %v", providers)
	}
}
