package persistence

import (
	"context"
	"testing"
	"time"

	"switch_server/core/domain"
)

func TestMemoryConnectionStoreRoundTrip(t *testing.T) {
	store := NewMemoryConnectionStore()
	ctx := context.Background()

	got, err := store.Get(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing connection, got %+v", got)
	}

	conn := &domain.Connection{
		Provider:     domain.ProviderGoogle,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		PKCEVerifier: "verifier",
		Nonce:        "nonce",
	}
	if err := store.Save(ctx, conn); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the original must not leak into the stored copy.
	conn.AccessToken = "changed"

	got, err = store.Get(ctx, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessToken != "access" || got.RefreshToken != "refresh" {
		t.Errorf("stored connection mutated: %+v", got)
	}
	if got.PKCEVerifier != "verifier" || got.Nonce != "nonce" {
		t.Errorf("transient fields not persisted: %+v", got)
	}

	if err := store.Delete(ctx, domain.ProviderGoogle); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, _ = store.Get(ctx, domain.ProviderGoogle)
	if got != nil {
		t.Error("connection should be gone after delete")
	}
}

func TestMemoryRuleStoreRoundTrip(t *testing.T) {
	store := NewMemoryRuleStore()
	ctx := context.Background()

	rules, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected empty store, got %d rules", len(rules))
	}

	rule := &domain.SwitchRule{
		SwitchID:     "desk-lamp",
		Provider:     domain.ProviderMicrosoft,
		IncludeWords: []string{"standup"},
		OnlyBusy:     true,
	}
	if err := store.Save(ctx, rule); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "desk-lamp")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Provider != domain.ProviderMicrosoft || !got.OnlyBusy {
		t.Errorf("unexpected stored rule: %+v", got)
	}

	rules, _ = store.List(ctx)
	if len(rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(rules))
	}

	if err := store.Delete(ctx, "desk-lamp"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, _ = store.Get(ctx, "desk-lamp")
	if got != nil {
		t.Error("rule should be gone after delete")
	}
}
