// Package router implements the ModelRouter: request tier classification
// and provider/model selection, falling back to other tiers on provider errors.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/audit"
	"github.com/quantumclaw/quantumclaw/internal/providers"
)

// Tier is a coarse request-complexity bucket, cheapest first.
type Tier int

const (
	Tier1 Tier = iota + 1 // trivial / deterministic, answered without a model call where possible
	Tier2                 // short factual
	Tier3                 // default conversational
	Tier4                 // tool-heavy / multi-step reasoning
	Tier5                 // highest tier; Classify never assigns it (its > 30000 case is reached only after the > 12000 Tier4 case), but fallback still tries it
)

func (t Tier) String() string { return fmt.Sprintf("T%d", int(t)) }

// TierModel is the (provider, model) pair configured for a tier.
type TierModel struct {
	Provider string
	Model    string
	CostIn   float64 // USD per 1K prompt tokens
	CostOut  float64 // USD per 1K completion tokens
}

var trivialPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|ok|okay|yes|no)[.!?]?\s*$`)

// Classify assigns a tier to a request based on message length, tool
// presence, and simple lexical heuristics. It never calls a model.
func Classify(messages []providers.Message, hasTools bool) Tier {
	if len(messages) == 0 {
		return Tier3
	}
	last := messages[len(messages)-1]
	text := strings.TrimSpace(last.Content)

	if trivialPattern.MatchString(text) {
		return Tier1
	}

	wordCount := len(strings.Fields(text))
	totalLen := 0
	for _, m := range messages {
		totalLen += len(m.Content)
	}

	switch {
	case hasTools || totalLen > 12000:
		return Tier4
	case totalLen > 30000:
		return Tier5
	case wordCount <= 12:
		return Tier2
	default:
		return Tier3
	}
}

// Router selects providers per tier and falls back to other tiers (see
// fallbackOrder) on provider errors, recording cost to the audit log on
// every completed call.
type Router struct {
	tiers     map[Tier]TierModel
	providers map[string]providers.Provider
	auditLog  *audit.Log
}

// New builds a Router. tiers maps each tier to its configured provider+model;
// providers maps provider name to its adapter instance.
func New(tiers map[Tier]TierModel, provs map[string]providers.Provider, auditLog *audit.Log) *Router {
	return &Router{tiers: tiers, providers: provs, auditLog: auditLog}
}

// Complete classifies the request, resolves the tier's provider, and calls
// it, recording cost. If the call fails it tries the other configured tiers
// in fallbackOrder (more capable tiers first, then cheaper ones).
func (r *Router) Complete(ctx context.Context, agentID string, req providers.ChatRequest) (*providers.ChatResponse, Tier, error) {
	tier := Classify(req.Messages, len(req.Tools) > 0)

	order := fallbackOrder(tier)
	var lastErr error
	for _, t := range order {
		tm, ok := r.tiers[t]
		if !ok {
			continue
		}
		p, ok := r.providers[tm.Provider]
		if !ok {
			continue
		}
		start := time.Now()
		reqCopy := req
		if reqCopy.Model == "" {
			reqCopy.Model = tm.Model
		}
		resp, err := p.Chat(ctx, reqCopy)
		dur := time.Since(start)
		if err != nil {
			lastErr = err
			slog.Warn("router: provider call failed, trying fallback", "tier", t, "provider", tm.Provider, "error", err)
			continue
		}

		cost := 0.0
		if resp.Usage != nil {
			cost = float64(resp.Usage.PromptTokens)/1000*tm.CostIn + float64(resp.Usage.CompletionTokens)/1000*tm.CostOut
		}
		if r.auditLog != nil {
			entry := audit.Entry{
				Agent:      agentID,
				Kind:       "model",
				Name:       tm.Model,
				Provider:   tm.Provider,
				Model:      tm.Model,
				Result:     "ok",
				DurationMS: dur.Milliseconds(),
				CostUSD:    cost,
			}
			if resp.Usage != nil {
				entry.InputTok = int64(resp.Usage.PromptTokens)
				entry.OutputTok = int64(resp.Usage.CompletionTokens)
			}
			r.auditLog.Record(ctx, entry)
		}
		return resp, t, nil
	}
	return nil, tier, fmt.Errorf("router: all providers exhausted for tier %s: %w", tier, lastErr)
}

// fallbackOrder returns the tier and the tiers to try afterward: the
// classified tier, then each more capable tier in turn, then each cheaper
// tier from the nearest down to Tier1. It escalates first toward
// more capable tiers since those are the ones most likely to still have a
// healthy provider when a cheap one is misconfigured or rate limited.
func fallbackOrder(t Tier) []Tier {
	order := []Tier{t}
	for next := t + 1; next <= Tier5; next++ {
		order = append(order, next)
	}
	for prev := t - 1; prev >= Tier1; prev-- {
		order = append(order, prev)
	}
	return order
}
