package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/kkk0312/mdia/internal/plan"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func planCmd() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "plan [analysis-id]",
		Short: "Generate the execution plan of an analysis",
		Long:  "Generate and structure the execution plan of an analysis (the latest one by default). An existing plan is shown, not regenerated.",
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
			if err := locked(cmd.Context(), s, func() error { return ensurePlan(cmd, a, s) }); err != nil {
				return err
			}
			printPlan(cmd, s)

			if export != "" {
				data, err := plan.ExportYAML(s.Progress.Steps)
				if err != nil {
					return err
				}
				if err := os.WriteFile(export, data, 0o644); err != nil {
					return fmt.Errorf("write plan: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "计划已导出到 %s\n", export)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "write the structured plan as YAML to this file")
	return cmd
}

func printPlan(cmd *cobra.Command, s *analysis.Session) {
	out := cmd.OutOrStdout()
	groups := s.Progress.ModuleGroups()
	if len(groups) == 0 {
		fmt.Fprintln(out, s.PlanText)
		return
	}
	fmt.Fprintf(out, "执行计划 (%d 个步骤)\n", s.Progress.TotalSteps)
	for _, g := range groups {
		fmt.Fprintf(out, "\n%s (%d/%d)\n", g.Module, g.Done, len(g.Steps))
		for _, sv := range g.Steps {
			line := fmt.Sprintf("  %s 步骤 %d: %s", stateMark(sv.State), sv.Index+1, sv.Step.Name)
			if sv.Step.UsesTool && sv.Step.Tool != "" {
				line += " [" + sv.Step.Tool + "]"
			}
			fmt.Fprintln(out, line)
		}
	}
}

func stateMark(st analysis.StepState) string {
	switch st {
	case analysis.StepDone:
		return "✅"
	case analysis.StepActive:
		return "🔄"
	}
	return "⏸️"
}

// ensurePlan generates the plan unless one exists. A plan that could not be
// structured leaves zero steps; execution then completes immediately.
func ensurePlan(cmd *cobra.Command, a *app, s *analysis.Session) error {
	if s.Progress.IsCompleted(analysis.StagePlanGeneration) {
		return nil
	}
	_, err := a.ctrl.GeneratePlan(cmd.Context(), s)
	var perr *plan.ParseError
	if errors.As(err, &perr) {
		log.Warn().Err(err).Msg("plan text kept without structured steps")
		return nil
	}
	if errors.Is(err, pipeline.ErrStageOrder) {
		return fmt.Errorf("analysis %s has no document report yet: %w", s.ID, err)
	}
	return err
}
