package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage and interact with agents",
	}
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentChatCmd())
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			names := make([]string, 0, len(cfg.Agents.List)+1)
			names = append(names, "default")
			for name := range cfg.Agents.List {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROVIDER\tMODEL\tWORKSPACE")
			seen := make(map[string]bool)
			for _, name := range names {
				if seen[name] {
					continue
				}
				seen[name] = true
				resolved := cfg.ResolveAgent(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, resolved.Provider, resolved.Model, resolved.Workspace)
			}
			return w.Flush()
		},
	}
}
