package main

import (
	"github.com/spf13/cobra"

	"github.com/claudio-flowstack/flowstack/internal/i18n"
	"github.com/claudio-flowstack/flowstack/pkg/catalog"
)

func (a *app) systemsCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "systems",
		Short: "List the systems of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}
			for _, sys := range cat.Systems() {
				a.print.Fprintln(a.out, i18n.MsgSystemLine, sys.ID, sys.Name, sys.Category, len(sys.Nodes))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML catalog file (default: built-in demo systems)")
	return cmd
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}
