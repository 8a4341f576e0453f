package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/store/file"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage channel pairing codes",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	return cmd
}

func openPairingStore() (*file.PairingStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	_ = cfg
	return file.NewPairingStore(filepath.Join(dataDir, "pairing.json"))
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			pending, err := store.ListPending(context.Background())
			if err != nil {
				return fmt.Errorf("list pending pairings: %w", err)
			}
			if len(pending) == 0 {
				fmt.Println("No pending pairing requests.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tCHANNEL\tCHAT ID\tAGENT\tEXPIRES")
			for _, p := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Code, p.Channel, p.ChatID, p.Agent, p.ExpiresAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPairingStore()
			if err != nil {
				return err
			}
			if err := store.Approve(context.Background(), args[0]); err != nil {
				return fmt.Errorf("approve pairing: %w", err)
			}
			fmt.Printf("Approved pairing code %s\n", args[0])
			return nil
		},
	}
}
