package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled cron jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd())
	cmd.AddCommand(cronDisableCmd())
	return cmd
}

func openCronStore() (*cron.Store, error) {
	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	return cron.Open(filepath.Join(dataDir, "cron.json"))
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return fmt.Errorf("open cron store: %w", err)
			}
			jobs := store.List()
			if len(jobs) == 0 {
				fmt.Println("No cron jobs scheduled.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAGENT\tEXPR\tENABLED\tNEXT RUN\tLAST ERROR")
			for _, j := range jobs {
				next := "-"
				if !j.NextRun.IsZero() {
					next = j.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n", j.ID, j.Name, j.AgentID, j.Expr, j.Enabled, next, j.LastError)
			}
			return w.Flush()
		},
	}
}

func cronAddCmd() *cobra.Command {
	var agentID, message, channel, to string
	var deliver bool
	c := &cobra.Command{
		Use:   "add <name> <cron-expr>",
		Short: "Schedule a new cron job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return fmt.Errorf("open cron store: %w", err)
			}
			job, err := store.Add(args[0], agentID, args[1], cron.Payload{
				Message: message,
				Channel: channel,
				To:      to,
				Deliver: deliver,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Scheduled job %s (%s), next run %s\n", job.ID, job.Name, job.NextRun.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().StringVar(&agentID, "agent", "", "agent to run this job against (default agent if unset)")
	c.Flags().StringVar(&message, "message", "", "message to send the agent on each run")
	c.Flags().StringVar(&channel, "channel", "", "channel to deliver the result to")
	c.Flags().StringVar(&to, "to", "", "chat ID to deliver the result to")
	c.Flags().BoolVar(&deliver, "deliver", false, "deliver the run result to channel/to")
	return c
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a cron job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return fmt.Errorf("open cron store: %w", err)
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed job %s\n", args[0])
			return nil
		},
	}
}

func cronEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a cron job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return fmt.Errorf("open cron store: %w", err)
			}
			if err := store.SetEnabled(args[0], true); err != nil {
				return err
			}
			fmt.Printf("Enabled job %s\n", args[0])
			return nil
		},
	}
}

func cronDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a cron job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore()
			if err != nil {
				return fmt.Errorf("open cron store: %w", err)
			}
			if err := store.SetEnabled(args[0], false); err != nil {
				return err
			}
			fmt.Printf("Disabled job %s\n", args[0])
			return nil
		},
	}
}
