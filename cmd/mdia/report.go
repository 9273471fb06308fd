package main

import (
	"fmt"
	"os"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/kkk0312/mdia/internal/render"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	var (
		out  string
		raw  bool
		json bool
	)
	cmd := &cobra.Command{
		Use:   "report [analysis-id]",
		Short: "Synthesize and show the final report",
		Long:  "Synthesize the final report once every step has run, then print it or write it to a file. An existing report is reused.",
		Args:  maxOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			s, err := a.resolve(cmd.Context(), idArg(args))
			if err != nil {
				return err
			}
			if json {
				data, err := pipeline.ExportReports(s.Progress.ExecutionReports)
				if err != nil {
					return err
				}
				return writeOut(cmd, out, data)
			}
			if !s.Progress.IsCompleted(analysis.StageFinalReport) {
				if !s.Progress.IsCompleted(analysis.StagePlanExecution) {
					return fmt.Errorf("analysis %s has %d/%d steps executed; run `mdia step` or `mdia run` first",
						s.ID, s.Progress.CompletedSteps, s.Progress.TotalSteps)
				}
				err = locked(cmd.Context(), s, func() error {
					_, err := a.ctrl.Synthesize(cmd.Context(), s)
					return err
				})
				if err != nil {
					return err
				}
				a.reindex(s)
			}
			return writeReport(cmd, s, out, raw)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().BoolVar(&raw, "raw", false, "print plain markdown without terminal rendering")
	cmd.Flags().BoolVar(&json, "json", false, "export the step reports as JSON")
	return cmd
}

// writeReport writes the markdown report to path, or renders it to stdout.
func writeReport(cmd *cobra.Command, s *analysis.Session, path string, raw bool) error {
	md := render.Markdown(s)
	if path != "" || raw {
		return writeOut(cmd, path, []byte(md))
	}
	rendered, err := render.Terminal(md, 0)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
	return err
}

func writeOut(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "已写入 %s\n", path)
	return nil
}
