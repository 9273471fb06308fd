package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the analysis tools plans may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := buildRegistry(cfg, newGateway(cmd.Context(), cfg.Model))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reg.Catalog())
			return nil
		},
	}
}
