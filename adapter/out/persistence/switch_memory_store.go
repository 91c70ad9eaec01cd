package persistence

import (
	"context"
	"sync"

	"switch_server/core/domain"
	"switch_server/core/port/out"
)

// MemoryConnectionStore is the in-process ConnectionStore used when no
// REDIS_URL is configured, and in tests.
type MemoryConnectionStore struct {
	mu    sync.RWMutex
	conns map[domain.Provider]domain.Connection
}

func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{conns: make(map[domain.Provider]domain.Connection)}
}

func (s *MemoryConnectionStore) Get(_ context.Context, provider domain.Provider) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[provider]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (s *MemoryConnectionStore) Save(_ context.Context, conn *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.Provider] = *conn
	return nil
}

func (s *MemoryConnectionStore) Delete(_ context.Context, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, provider)
	return nil
}

// MemoryRuleStore is the in-process RuleStore counterpart.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]domain.SwitchRule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]domain.SwitchRule)}
}

func (s *MemoryRuleStore) Get(_ context.Context, switchID string) (*domain.SwitchRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[switchID]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (s *MemoryRuleStore) List(_ context.Context) ([]*domain.SwitchRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*domain.SwitchRule, 0, len(s.rules))
	for id := range s.rules {
		rule := s.rules[id]
		rules = append(rules, &rule)
	}
	return rules, nil
}

func (s *MemoryRuleStore) Save(_ context.Context, rule *domain.SwitchRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.SwitchID] = *rule
	return nil
}

func (s *MemoryRuleStore) Delete(_ context.Context, switchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, switchID)
	return nil
}

// Ensure interface compliance
var (
	_ out.ConnectionStore = (*MemoryConnectionStore)(nil)
	_ out.RuleStore       = (*MemoryRuleStore)(nil)
)
