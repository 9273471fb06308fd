package pipeline

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
)

// Synthesize merges the document report, the plan and every step report into
// the final report.
func (c *Controller) Synthesize(ctx context.Context, s *analysis.Session) (string, error) {
	if !s.Progress.IsCompleted(analysis.StagePlanExecution) {
		return "", fmt.Errorf("%w: plan execution has not completed", ErrStageOrder)
	}
	if err := c.ready(); err != nil {
		return "", err
	}

	prompt := synthesisPrompt(s.Document.Report, s.PlanText, s.Progress.ExecutionReports)
	text, err := llm.Prompt(ctx, c.gw, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize report: %w", err)
	}

	s.FinalReport = text
	c.complete(s, analysis.StageFinalReport)
	c.sessionLogger(s).Info().Int("chars", utf8.RuneCountInString(text)).Msg("final report synthesized")

	if err := c.persist(ctx, s, analysis.Event{
		Type:    analysis.EventReportSynthesized,
		Message: fmt.Sprintf("综合报告 %d 字", utf8.RuneCountInString(text)),
	}); err != nil {
		return text, err
	}
	return text, nil
}
