package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
)

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List configured messaging channels and their policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tENABLED\tDM POLICY\tGROUP POLICY")
			fmt.Fprintf(w, "telegram\t%t\t%s\t%s\n", cfg.Channels.Telegram.Enabled, nonEmpty(cfg.Channels.Telegram.DMPolicy, "pairing"), nonEmpty(cfg.Channels.Telegram.GroupPolicy, "open"))
			fmt.Fprintf(w, "discord\t%t\t%s\t%s\n", cfg.Channels.Discord.Enabled, nonEmpty(cfg.Channels.Discord.DMPolicy, "open"), nonEmpty(cfg.Channels.Discord.GroupPolicy, "open"))
			fmt.Fprintf(w, "slack\t%t\t%s\t%s\n", cfg.Channels.Slack.Enabled, nonEmpty(cfg.Channels.Slack.DMPolicy, "open"), nonEmpty(cfg.Channels.Slack.GroupPolicy, "open"))
			fmt.Fprintf(w, "whatsapp\t%t\t%s\t%s\n", cfg.Channels.WhatsApp.Enabled, nonEmpty(cfg.Channels.WhatsApp.DMPolicy, "open"), nonEmpty(cfg.Channels.WhatsApp.GroupPolicy, "open"))
			return w.Flush()
		},
	}
}
