// Package persistence implements the flat key-value stores behind the
// connection and rule ports.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"switch_server/core/domain"
	"switch_server/core/port/out"
)

const (
	connKeyPrefix = "calswitch:conn:"
	rulesHashKey  = "calswitch:rules"
)

// RedisConnectionStore keeps one Connection record per provider under
// calswitch:conn:<provider>.
type RedisConnectionStore struct {
	client *redis.Client
}

func NewRedisConnectionStore(client *redis.Client) *RedisConnectionStore {
	return &RedisConnectionStore{client: client}
}

func connKey(provider domain.Provider) string {
	return connKeyPrefix + string(provider)
}

// connRecord is the storage shape of a Connection. The domain type hides
// token material from API serialization, so the store carries its own
// record with every field present.
type connRecord struct {
	Provider     domain.Provider `json:"provider"`
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	PKCEVerifier string          `json:"pkce_verifier,omitempty"`
	Nonce        string          `json:"nonce,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toRecord(conn *domain.Connection) connRecord {
	return connRecord{
		Provider:     conn.Provider,
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		ExpiresAt:    conn.ExpiresAt,
		PKCEVerifier: conn.PKCEVerifier,
		Nonce:        conn.Nonce,
		UpdatedAt:    conn.UpdatedAt,
	}
}

func (r connRecord) toDomain() *domain.Connection {
	return &domain.Connection{
		Provider:     r.Provider,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
		PKCEVerifier: r.PKCEVerifier,
		Nonce:        r.Nonce,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *RedisConnectionStore) Get(ctx context.Context, provider domain.Provider) (*domain.Connection, error) {
	data, err := s.client.Get(ctx, connKey(provider)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read connection: %w", err)
	}

	var rec connRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode connection: %w", err)
	}
	return rec.toDomain(), nil
}

func (s *RedisConnectionStore) Save(ctx context.Context, conn *domain.Connection) error {
	data, err := json.Marshal(toRecord(conn))
	if err != nil {
		return fmt.Errorf("failed to encode connection: %w", err)
	}
	if err := s.client.Set(ctx, connKey(conn.Provider), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write connection: %w", err)
	}
	return nil
}

func (s *RedisConnectionStore) Delete(ctx context.Context, provider domain.Provider) error {
	if err := s.client.Del(ctx, connKey(provider)).Err(); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// RedisRuleStore keeps switch rules as fields of one hash so List never
// needs a SCAN.
type RedisRuleStore struct {
	client *redis.Client
}

func NewRedisRuleStore(client *redis.Client) *RedisRuleStore {
	return &RedisRuleStore{client: client}
}

func (s *RedisRuleStore) Get(ctx context.Context, switchID string) (*domain.SwitchRule, error) {
	data, err := s.client.HGet(ctx, rulesHashKey, switchID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule: %w", err)
	}

	var rule domain.SwitchRule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return nil, fmt.Errorf("failed to decode rule: %w", err)
	}
	return &rule, nil
}

func (s *RedisRuleStore) List(ctx context.Context) ([]*domain.SwitchRule, error) {
	fields, err := s.client.HGetAll(ctx, rulesHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*domain.SwitchRule, 0, len(fields))
	for switchID, data := range fields {
		var rule domain.SwitchRule
		if err := json.Unmarshal([]byte(data), &rule); err != nil {
			return nil, fmt.Errorf("failed to decode rule %s: %w", switchID, err)
		}
		rules = append(rules, &rule)
	}
	return rules, nil
}

func (s *RedisRuleStore) Save(ctx context.Context, rule *domain.SwitchRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}
	if err := s.client.HSet(ctx, rulesHashKey, rule.SwitchID, data).Err(); err != nil {
		return fmt.Errorf("failed to write rule: %w", err)
	}
	return nil
}

func (s *RedisRuleStore) Delete(ctx context.Context, switchID string) error {
	if err := s.client.HDel(ctx, rulesHashKey, switchID).Err(); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// Ensure interface compliance
var (
	_ out.ConnectionStore = (*RedisConnectionStore)(nil)
	_ out.RuleStore       = (*RedisRuleStore)(nil)
)
