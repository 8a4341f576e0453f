package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List providers and which ones have a configured API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			names := make([]string, 0, len(providerMap))
			for name := range providerMap {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tCONFIGURED\tSUGGESTED MODEL\tAPI BASE")
			for _, name := range names {
				pi := providerMap[name]
				configured := resolveProviderAPIKey(cfg, name) != ""
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", name, configured, pi.modelHint, pi.apiBase)
			}
			return w.Flush()
		},
	}
}
