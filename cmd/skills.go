package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quantumclaw/quantumclaw/internal/config"
	"github.com/quantumclaw/quantumclaw/internal/skills"
)

func skillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List skills available to agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
			globalDir := filepath.Join(config.ExpandHome("~/.goclaw"), "skills")

			seen := map[string]skills.Skill{}
			for _, dir := range []string{workspace, globalDir} {
				loaded, err := skills.New(dir).LoadAll()
				if err != nil {
					continue
				}
				for _, s := range loaded {
					seen[s.Name] = s
				}
			}
			if len(seen) == 0 {
				fmt.Println("No skills found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tAUTH\tAGENTS\tSOURCE")
			for _, s := range seen {
				agents := "all"
				if len(s.Agents) > 0 {
					agents = fmt.Sprintf("%v", s.Agents)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Auth, agents, s.SourcePath)
			}
			return w.Flush()
		},
	}
}
