package main

import (
	"github.com/kkk0312/mdia/internal/mcpserver"
	"github.com/spf13/cobra"
)

var version = "dev"

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analysis tools and stored reports over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return mcpserver.Serve(cmd.Context(), mcpserver.New(a.reg, a.store, version))
		},
	}
}
