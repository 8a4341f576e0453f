// Package credential implements the CredentialManager: issuance and
// verification of agent identity documents (AIDs) and the bounded remote
// credential hub exchange used to fetch operator-provisioned secrets.
package credential

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quantumclaw/quantumclaw/internal/secrets"
)

// AID is a signed agent identity document. Scopes describe what the holder
// may request the CredentialManager to resolve on its behalf (e.g.
// "secrets:anthropic_api_key", "channel:telegram").
type AID struct {
	Subject   string    `json:"subject"` // agent name
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	ParentOf  string    `json:"parentOf,omitempty"` // subject of the parent AID, if any
	Signature []byte    `json:"signature"`
}

func (a AID) signingPayload() []byte {
	cp := a
	cp.Signature = nil
	data, _ := json.Marshal(cp)
	return data
}

// Manager issues and verifies AIDs, and resolves secrets on behalf of
// agents holding a valid AID with the appropriate scope.
type Manager struct {
	secretStore *secrets.Store
	signKey     ed25519.PrivateKey
	verifyKey   ed25519.PublicKey
	hubURL      string
	hubClient   *http.Client
}

// New builds a Manager. signKey/verifyKey are the runtime's own Ed25519
// keypair, persisted by the caller (typically inside the secret vault)
// across restarts so previously issued AIDs keep verifying.
func New(store *secrets.Store, signKey ed25519.PrivateKey, verifyKey ed25519.PublicKey, hubURL string) *Manager {
	return &Manager{
		secretStore: store,
		signKey:     signKey,
		verifyKey:   verifyKey,
		hubURL:      hubURL,
		hubClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Issue signs a fresh, root-level AID for subject with the given scopes.
func (m *Manager) Issue(subject string, scopes []string, ttl time.Duration) (AID, error) {
	aid := AID{Subject: subject, Scopes: scopes, IssuedAt: time.Now().UTC()}
	if ttl > 0 {
		aid.ExpiresAt = aid.IssuedAt.Add(ttl)
	}
	sig := ed25519.Sign(m.signKey, aid.signingPayload())
	aid.Signature = sig
	return aid, nil
}

// IssueChild derives a scoped-down AID for a subagent from a parent AID.
// Every scope of the child must already be held by the parent — the
// narrower set is enforced here, at issuance, and is never re-widened.
func (m *Manager) IssueChild(parent AID, childSubject string, requestedScopes []string, ttl time.Duration) (AID, error) {
	parentScopes := make(map[string]bool, len(parent.Scopes))
	for _, s := range parent.Scopes {
		parentScopes[s] = true
	}
	for _, s := range requestedScopes {
		if !parentScopes[s] {
			return AID{}, fmt.Errorf("credential: child scope %q exceeds parent scopes", s)
		}
	}
	child, err := m.Issue(childSubject, requestedScopes, ttl)
	if err != nil {
		return AID{}, err
	}
	child.ParentOf = parent.Subject
	return child, nil
}

// Verify checks the AID's signature and expiry.
func (m *Manager) Verify(aid AID) error {
	if !ed25519.Verify(m.verifyKey, aid.signingPayload(), aid.Signature) {
		return fmt.Errorf("credential: invalid signature for subject %q", aid.Subject)
	}
	if !aid.ExpiresAt.IsZero() && time.Now().After(aid.ExpiresAt) {
		return fmt.Errorf("credential: AID for %q expired at %s", aid.Subject, aid.ExpiresAt)
	}
	return nil
}

// HasScope reports whether aid grants scope.
func (a AID) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ResolveSecret returns the plaintext secret for key if aid is valid and
// scoped for it, reading from the local vault first and, if absent,
// attempting the remote credential hub.
func (m *Manager) ResolveSecret(ctx context.Context, aid AID, key string) (string, error) {
	if err := m.Verify(aid); err != nil {
		return "", err
	}
	if !aid.HasScope("secrets:" + key) {
		return "", fmt.Errorf("credential: %q not scoped for secret %q", aid.Subject, key)
	}
	if v, err := m.secretStore.Get(key); err == nil {
		return v, nil
	}
	if m.hubURL == "" {
		return "", fmt.Errorf("credential: secret %q unavailable and no hub configured", key)
	}
	return m.fetchFromHub(ctx, aid, key)
}

func (m *Manager) fetchFromHub(ctx context.Context, aid AID, key string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": aid.Subject,
		"key": key,
		"exp": time.Now().Add(30 * time.Second).Unix(),
	})
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", fmt.Errorf("credential: sign hub token: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"key": key})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.hubURL+"/v1/resolve", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.hubClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: hub request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credential: hub returned %d", resp.StatusCode)
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("credential: decode hub response: %w", err)
	}
	return out.Value, nil
}
