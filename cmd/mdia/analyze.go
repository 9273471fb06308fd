package main

import (
	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Start a new analysis from an image, PDF or web page",
		Long:  "Capture the document, ask the model to analyze it and record the document report. Every call starts a new analysis.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			s, err := a.analyzeNew(cmd.Context(), &src)
			if err != nil {
				return err
			}
			printDocument(cmd, s)
			return nil
		},
	}
	src.register(cmd)
	return cmd
}
