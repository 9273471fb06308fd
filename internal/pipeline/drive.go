package pipeline

import (
	"context"

	"github.com/kkk0312/mdia/internal/analysis"
)

// StepObserver is notified after every executed step.
type StepObserver func(s *analysis.Session, res StepResult)

// Drive executes the remaining steps of s one at a time and finalizes plan
// execution. It stops at the first error; recorded steps stay recorded.
func Drive(ctx context.Context, c *Controller, s *analysis.Session, observe StepObserver) ([]analysis.StepReport, error) {
	for !s.Progress.Done() {
		res, err := c.AdvanceOneStep(ctx, s)
		if err != nil {
			return s.Progress.ExecutionReports, err
		}
		if observe != nil {
			observe(s, res)
		}
	}
	res, err := c.AdvanceOneStep(ctx, s)
	return res.Reports, err
}
