package main

import (
	"context"
	"fmt"

	"github.com/kkk0312/mdia/internal/adkexec"
	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/config"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/kkk0312/mdia/internal/tui"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		src      sourceFlags
		useTUI   bool
		workflow string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "run [analysis-id]",
		Short: "Run an analysis to its final report",
		Long: "Run every remaining stage of an analysis: document analysis when a source flag is given, " +
			"plan generation, step execution and synthesis. Without a source flag the latest (or given) analysis is resumed.",
		Args: maxOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			if src.set() && len(args) > 0 {
				return fmt.Errorf("an analysis id cannot be combined with --image, --pdf or --url")
			}
			a, closeFn, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if workflow == "" {
				workflow = a.cfg.Analysis.Workflow
			}

			var s *analysis.Session
			if src.set() {
				s, err = a.analyzeNew(cmd.Context(), &src)
			} else {
				s, err = a.resolve(cmd.Context(), idArg(args))
			}
			if err != nil {
				return err
			}
			if !s.Progress.IsCompleted(analysis.StageDocumentAnalysis) {
				return fmt.Errorf("analysis %s has no document report; start a new one with --image, --pdf or --url", s.ID)
			}

			err = locked(cmd.Context(), s, func() error {
				if err := ensurePlan(cmd, a, s); err != nil {
					return err
				}
				a.reindex(s)
				if useTUI {
					return tui.Run(cmd.Context(), a.ctrl, s)
				}
				if err := execute(cmd.Context(), a, s, workflow, func(s *analysis.Session, res pipeline.StepResult) {
					printStep(cmd, s, res)
				}); err != nil {
					return err
				}
				if s.Progress.IsCompleted(analysis.StageFinalReport) {
					return nil
				}
				_, err := a.ctrl.Synthesize(cmd.Context(), s)
				return err
			})
			a.reindex(s)
			if err != nil {
				return err
			}
			return writeReport(cmd, s, "", raw)
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show a live progress view")
	cmd.Flags().StringVar(&workflow, "workflow", "", "step driver: loop or adk (default from config)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the report as plain markdown")
	return cmd
}

func execute(ctx context.Context, a *app, s *analysis.Session, workflow string, observe pipeline.StepObserver) error {
	var err error
	switch workflow {
	case config.WorkflowADK:
		_, err = adkexec.Drive(ctx, a.ctrl, s, observe)
	case config.WorkflowLoop, "":
		_, err = pipeline.Drive(ctx, a.ctrl, s, observe)
	default:
		return fmt.Errorf("unknown workflow %q (want %s or %s)", workflow, config.WorkflowLoop, config.WorkflowADK)
	}
	return err
}
