package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "onboard",
		Short: "Set up goclaw: detect a provider from env and write config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath(), force)
		},
	}
	c.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return c
}

// runOnboard writes a working config.json at cfgPath, preferring
// non-interactive detection of provider API keys from the environment and
// falling back to an interactive prompt when none are found.
func runOnboard(cfgPath string, force bool) error {
	if !force {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}
	}

	if canAutoOnboard() {
		if runAutoOnboard(cfgPath) {
			fmt.Printf("Wrote %s from detected provider credentials.\n", cfgPath)
			return reportVerification(cfgPath)
		}
	}

	cfg := config.Default()
	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Provider (anthropic/openai/openrouter/groq/deepseek/gemini) [anthropic]: ")
	provider := readLine(reader)
	if provider == "" {
		provider = "anthropic"
	}

	fmt.Printf("API key for %s: ", provider)
	apiKey := readLine(reader)
	if apiKey == "" {
		return fmt.Errorf("an API key is required")
	}
	setProviderAPIKey(cfg, provider, apiKey)
	cfg.Agents.Defaults.Provider = provider
	if pi, ok := providerMap[provider]; ok {
		cfg.Agents.Defaults.Model = pi.modelHint
	}

	if err := saveCleanConfig(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", cfgPath)
	return reportVerification(cfgPath)
}

func reportVerification(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load written config: %w", err)
	}
	if errs := verifyAllProviders(cfg, cfg.Agents.Defaults.Provider); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "warning: %s\n", e)
		}
	}
	fmt.Println("Run 'goclaw' to start the gateway, or 'goclaw agent chat' for a one-off prompt.")
	return nil
}

func setProviderAPIKey(cfg *config.Config, provider, apiKey string) {
	switch provider {
	case "anthropic":
		cfg.Providers.Anthropic.APIKey = apiKey
	case "openai":
		cfg.Providers.OpenAI.APIKey = apiKey
	case "openrouter":
		cfg.Providers.OpenRouter.APIKey = apiKey
	case "groq":
		cfg.Providers.Groq.APIKey = apiKey
	case "deepseek":
		cfg.Providers.DeepSeek.APIKey = apiKey
	case "gemini":
		cfg.Providers.Gemini.APIKey = apiKey
	}
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
