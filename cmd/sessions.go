package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/sessions"
)

func sessionsCmd() *cobra.Command {
	var agentID string
	c := &cobra.Command{
		Use:   "sessions",
		Short: "List stored conversation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			mgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))
			list := mgr.List(agentID)
			if len(list) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			sort.Slice(list, func(i, j int) bool { return list[i].Updated.After(list[j].Updated) })

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tMESSAGES\tCREATED\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Key, s.MessageCount, s.Created.Format(time.RFC3339), s.Updated.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	c.Flags().StringVar(&agentID, "agent", "", "filter to sessions for a single agent ID")
	return c
}
