package main

import (
	"fmt"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/spf13/cobra"
)

func stepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step [analysis-id]",
		Short: "Execute the next plan step",
		Long:  "Execute exactly one pending step of the plan. Once every step has run, the call marks plan execution complete.",
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
			var res pipeline.StepResult
			err = locked(cmd.Context(), s, func() error {
				var err error
				res, err = a.ctrl.AdvanceOneStep(cmd.Context(), s)
				return err
			})
			if err != nil {
				return err
			}
			a.reindex(s)
			printStep(cmd, s, res)
			return nil
		},
	}
}

func printStep(cmd *cobra.Command, s *analysis.Session, res pipeline.StepResult) {
	out := cmd.OutOrStdout()
	if res.Done {
		fmt.Fprintf(out, "所有 %d 个步骤已执行完毕，可运行 `mdia report` 生成最终报告\n", s.Progress.TotalSteps)
		return
	}
	r := res.Report
	status := "完成"
	if !r.Completed() {
		status = "失败"
	}
	fmt.Fprintf(out, "步骤 %d/%d %s: %s - %s\n", r.Step, s.Progress.TotalSteps, status, r.Module, r.Name)
	if res.Repaired {
		fmt.Fprintln(out, "  (工具结果不符合预期，步骤已调整)")
	}
	if r.ValidationResult != nil && !r.ValidationResult.Matches {
		fmt.Fprintf(out, "  验证: %s\n", r.ValidationResult.Reason)
	}
}
