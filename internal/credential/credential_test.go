package credential

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/secrets"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	store, err := secrets.Open(filepath.Join(t.TempDir(), "secrets.enc"))
	if err != nil {
		t.Fatalf("secrets.Open: %v", err)
	}
	return New(store, priv, pub, "")
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t)
	aid, err := m.Issue("default", []string{"secrets:anthropic_api_key"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Verify(aid); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedAID(t *testing.T) {
	m := newTestManager(t)
	aid, _ := m.Issue("default", []string{"secrets:x"}, time.Hour)
	aid.Scopes = append(aid.Scopes, "secrets:y")
	if err := m.Verify(aid); err == nil {
		t.Fatalf("expected verification failure for tampered AID")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := newTestManager(t)
	aid, _ := m.Issue("default", nil, time.Nanosecond)
	time.Sleep(time.Millisecond)
	if err := m.Verify(aid); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestIssueChildRejectsScopeEscalation(t *testing.T) {
	m := newTestManager(t)
	parent, _ := m.Issue("default", []string{"secrets:a"}, time.Hour)
	if _, err := m.IssueChild(parent, "sub", []string{"secrets:a", "secrets:b"}, time.Hour); err == nil {
		t.Fatalf("expected scope escalation to be rejected")
	}
	child, err := m.IssueChild(parent, "sub", []string{"secrets:a"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueChild: %v", err)
	}
	if child.ParentOf != "default" {
		t.Fatalf("got ParentOf %q, want default", child.ParentOf)
	}
}

func TestResolveSecretFromVault(t *testing.T) {
	m := newTestManager(t)
	if err := m.secretStore.Set("anthropic_api_key", "sk-test"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	aid, _ := m.Issue("default", []string{"secrets:anthropic_api_key"}, time.Hour)
	v, err := m.ResolveSecret(context.Background(), aid, "anthropic_api_key")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if v != "sk-test" {
		t.Fatalf("got %q", v)
	}
}

func TestResolveSecretRejectsMissingScope(t *testing.T) {
	m := newTestManager(t)
	_ = m.secretStore.Set("anthropic_api_key", "sk-test")
	aid, _ := m.Issue("default", nil, time.Hour)
	if _, err := m.ResolveSecret(context.Background(), aid, "anthropic_api_key"); err == nil {
		t.Fatalf("expected scope rejection")
	}
}
