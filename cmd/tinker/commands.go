package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/internal/config"
	"github.com/haasonsaas/tinker/internal/sessions"
	"github.com/haasonsaas/tinker/internal/tools/files"
	"github.com/haasonsaas/tinker/internal/tools/gitinfo"
	"github.com/haasonsaas/tinker/internal/tools/search"
	"github.com/haasonsaas/tinker/internal/tools/shell"
	"github.com/haasonsaas/tinker/internal/tools/web"
	"github.com/haasonsaas/tinker/pkg/models"
)

// buildToolRegistry registers the workspace tool set and applies
// per-deployment risk overrides from the config.
func buildToolRegistry(cfg *config.Config) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	if err := files.Register(registry, files.Config{Workspace: cfg.Tools.Workspace}); err != nil {
		return nil, err
	}
	if err := search.Register(registry, cfg.Tools.Workspace); err != nil {
		return nil, err
	}
	if err := shell.Register(registry, shell.Config{Workspace: cfg.Tools.Workspace}); err != nil {
		return nil, err
	}
	if err := gitinfo.Register(registry, cfg.Tools.Workspace); err != nil {
		return nil, err
	}
	if err := web.Register(registry); err != nil {
		return nil, err
	}

	for name, level := range cfg.Permissions.RiskOverrides {
		registry.SetRisk(name, models.ParseRiskLevel(level))
	}
	return registry, nil
}

func buildToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools and their risk levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			registry, err := buildToolRegistry(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRISK\tREAD-ONLY\tDESCRIPTION")
			for _, name := range registry.Names() {
				tool, _ := registry.Get(name)
				desc, _ := registry.Describe(name)
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
					name, desc.Risk, desc.ReadOnly, tool.Description())
			}
			return w.Flush()
		},
	}
}

func buildSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context(), sessions.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no stored sessions")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWORKSPACE\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					s.ID, s.Workspace, s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	return cmd
}
