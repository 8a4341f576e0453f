package cmd

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/providers"
)

// providerInfo carries the auto-detection metadata for one provider: the
// environment variable onboarding reads its key from, the default model to
// select when none is configured, and the default OpenAI-compatible base
// URL used when the user hasn't overridden it.
type providerInfo struct {
	envKey    string
	modelHint string
	apiBase   string
}

// providerMap is the catalog of every provider goclaw knows how to talk to.
// providerPriority (onboard_auto.go) walks this in auto-detection order.
var providerMap = map[string]providerInfo{
	"anthropic":  {envKey: "GOCLAW_ANTHROPIC_API_KEY", modelHint: "claude-sonnet-4-20250514", apiBase: "https://api.anthropic.com"},
	"openai":     {envKey: "GOCLAW_OPENAI_API_KEY", modelHint: "gpt-4o", apiBase: "https://api.openai.com/v1"},
	"openrouter": {envKey: "GOCLAW_OPENROUTER_API_KEY", modelHint: "anthropic/claude-sonnet-4", apiBase: "https://openrouter.ai/api/v1"},
	"groq":       {envKey: "GOCLAW_GROQ_API_KEY", modelHint: "llama-3.3-70b-versatile", apiBase: "https://api.groq.com/openai/v1"},
	"deepseek":   {envKey: "GOCLAW_DEEPSEEK_API_KEY", modelHint: "deepseek-chat", apiBase: "https://api.deepseek.com"},
	"gemini":     {envKey: "GOCLAW_GEMINI_API_KEY", modelHint: "gemini-2.0-flash", apiBase: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"mistral":    {envKey: "GOCLAW_MISTRAL_API_KEY", modelHint: "mistral-large-latest", apiBase: "https://api.mistral.ai/v1"},
	"xai":        {envKey: "GOCLAW_XAI_API_KEY", modelHint: "grok-2-latest", apiBase: "https://api.x.ai/v1"},
	"minimax":    {envKey: "GOCLAW_MINIMAX_API_KEY", modelHint: "abab6.5s-chat", apiBase: "https://api.minimax.io/v1"},
	"cohere":     {envKey: "GOCLAW_COHERE_API_KEY", modelHint: "command-r-plus", apiBase: "https://api.cohere.ai/compatibility/v1"},
	"perplexity": {envKey: "GOCLAW_PERPLEXITY_API_KEY", modelHint: "sonar", apiBase: "https://api.perplexity.ai"},
	"dashscope":  {envKey: "GOCLAW_DASHSCOPE_API_KEY", modelHint: "qwen-max", apiBase: "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	"bailian":    {envKey: "GOCLAW_BAILIAN_API_KEY", modelHint: "qwen-plus", apiBase: "https://dashscope.aliyuncs.com/compatible-mode/v1"},
}

// resolveProviderAPIKey reads the configured API key for name out of
// cfg.Providers, env overrides already folded in by config.Load.
func resolveProviderAPIKey(cfg *config.Config, name string) string {
	switch name {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey
	case "groq":
		return cfg.Providers.Groq.APIKey
	case "deepseek":
		return cfg.Providers.DeepSeek.APIKey
	case "gemini":
		return cfg.Providers.Gemini.APIKey
	case "mistral":
		return cfg.Providers.Mistral.APIKey
	case "xai":
		return cfg.Providers.XAI.APIKey
	case "minimax":
		return cfg.Providers.MiniMax.APIKey
	case "cohere":
		return cfg.Providers.Cohere.APIKey
	case "perplexity":
		return cfg.Providers.Perplexity.APIKey
	case "dashscope":
		return cfg.Providers.DashScope.APIKey
	case "bailian":
		return cfg.Providers.Bailian.APIKey
	default:
		return ""
	}
}

// resolveProviderAPIBase returns the default base URL for a known provider,
// or "" for anything outside providerMap (custom/unknown providers skip
// connectivity verification rather than guess a URL).
func resolveProviderAPIBase(name string) string {
	if pi, ok := providerMap[name]; ok {
		return pi.apiBase
	}
	return ""
}

// registerProviders builds a Provider for every configured API key and adds
// it to reg under its provider name. For anthropic, dashscope, openai and
// bailian a config-level APIBase override (if set) takes precedence over
// providerMap's default; every other provider uses providerMap's base URL
// and its config APIBase is not read.
func registerProviders(reg *providers.Registry, cfg *config.Config) {
	for name := range providerMap {
		apiKey := resolveProviderAPIKey(cfg, name)
		if apiKey == "" {
			continue
		}
		reg.Register(name, newProviderForVerify(cfg, name))
	}
}

// onboardGenerateToken returns a random URL-safe token of n raw bytes,
// used for gateway bearer tokens and Postgres encryption keys generated
// during non-interactive onboarding.
func onboardGenerateToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure means the OS entropy source is broken
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
