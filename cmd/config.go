package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the active configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as JSON, with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			redactSecrets(cfg)
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report any errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := config.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				os.Exit(1)
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}
}

// redactSecrets blanks out API keys and tokens before printing, so `config
// show` output is safe to paste into a bug report.
func redactSecrets(cfg *config.Config) {
	blank := func(s string) string {
		if s == "" {
			return ""
		}
		return "<redacted>"
	}
	cfg.Providers.Anthropic.APIKey = blank(cfg.Providers.Anthropic.APIKey)
	cfg.Providers.OpenAI.APIKey = blank(cfg.Providers.OpenAI.APIKey)
	cfg.Providers.OpenRouter.APIKey = blank(cfg.Providers.OpenRouter.APIKey)
	cfg.Providers.Groq.APIKey = blank(cfg.Providers.Groq.APIKey)
	cfg.Providers.Gemini.APIKey = blank(cfg.Providers.Gemini.APIKey)
	cfg.Providers.DeepSeek.APIKey = blank(cfg.Providers.DeepSeek.APIKey)
	cfg.Providers.Mistral.APIKey = blank(cfg.Providers.Mistral.APIKey)
	cfg.Providers.XAI.APIKey = blank(cfg.Providers.XAI.APIKey)
	cfg.Providers.MiniMax.APIKey = blank(cfg.Providers.MiniMax.APIKey)
	cfg.Providers.Cohere.APIKey = blank(cfg.Providers.Cohere.APIKey)
	cfg.Providers.Perplexity.APIKey = blank(cfg.Providers.Perplexity.APIKey)
	cfg.Providers.DashScope.APIKey = blank(cfg.Providers.DashScope.APIKey)
	cfg.Providers.Bailian.APIKey = blank(cfg.Providers.Bailian.APIKey)
	cfg.Channels.Telegram.Token = blank(cfg.Channels.Telegram.Token)
	cfg.Channels.Discord.Token = blank(cfg.Channels.Discord.Token)
	cfg.Channels.Slack.BotToken = blank(cfg.Channels.Slack.BotToken)
	cfg.Channels.Slack.AppToken = blank(cfg.Channels.Slack.AppToken)
	cfg.Gateway.Token = blank(cfg.Gateway.Token)
	cfg.Gateway.PIN = blank(cfg.Gateway.PIN)
}
