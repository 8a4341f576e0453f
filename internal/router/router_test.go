package router

import (
	"context"
	"errors"
	"testing"

	"github.com/quantumclaw/quantumclaw/internal/providers"
)

func TestClassifyTrivialGreeting(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "hello"}}
	if got := Classify(msgs, false); got != Tier1 {
		t.Fatalf("got %v, want Tier1", got)
	}
}

func TestClassifyToolUseForcesTier4(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "please check the weather"}}
	if got := Classify(msgs, true); got != Tier4 {
		t.Fatalf("got %v, want Tier4", got)
	}
}

func TestClassifyShortFactual(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "what time is it"}}
	if got := Classify(msgs, false); got != Tier2 {
		t.Fatalf("got %v, want Tier2", got)
	}
}

type stubProvider struct {
	name string
	fail bool
	resp *providers.ChatResponse
}

func (s *stubProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.fail {
		return nil, errors.New("boom")
	}
	return s.resp, nil
}
func (s *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}
func (s *stubProvider) DefaultModel() string { return "stub-model" }
func (s *stubProvider) Name() string         { return s.name }

func TestRouterFallsBackOnError(t *testing.T) {
	good := &stubProvider{name: "backup", resp: &providers.ChatResponse{Content: "ok", Usage: &providers.Usage{PromptTokens: 10, CompletionTokens: 5}}}
	bad := &stubProvider{name: "primary", fail: true}

	r := New(map[Tier]TierModel{
		Tier3: {Provider: "primary", Model: "m1"},
		Tier4: {Provider: "backup", Model: "m2"},
	}, map[string]providers.Provider{
		"primary": bad,
		"backup":  good,
	}, nil)

	resp, tier, err := r.Complete(context.Background(), "default", providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "tell me a very long and detailed story about the stars, the sea, and the quiet towns between them"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("got content %q", resp.Content)
	}
	if tier != Tier4 {
		t.Fatalf("got tier %v, want Tier4 (fallback)", tier)
	}
}

func TestRouterReturnsErrorWhenAllFail(t *testing.T) {
	bad := &stubProvider{name: "primary", fail: true}
	r := New(map[Tier]TierModel{Tier3: {Provider: "primary", Model: "m1"}}, map[string]providers.Provider{"primary": bad}, nil)
	_, _, err := r.Complete(context.Background(), "default", providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi there how are you doing today"}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}
