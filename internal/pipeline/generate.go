package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/kkk0312/mdia/internal/plan"
)

// GeneratePlan asks the model for an execution plan and parses it into steps.
//
// When the plan text arrives but cannot be structured, the text is kept, the
// step list is empty, the stage still completes, and the structuring error is
// returned next to the plan text so callers can warn about it.
func (c *Controller) GeneratePlan(ctx context.Context, s *analysis.Session) (string, error) {
	if !s.Progress.IsCompleted(analysis.StageDocumentAnalysis) {
		return "", fmt.Errorf("%w: document analysis has not completed", ErrStageOrder)
	}
	if s.Progress.Stage.Index() > analysis.StagePlanGeneration.Index() {
		return "", fmt.Errorf("%w: analysis %s is already at %s", ErrStageOrder, s.ID, s.Progress.Stage)
	}
	if err := c.ready(); err != nil {
		return "", err
	}

	logger := c.sessionLogger(s)
	prompt := planPrompt(s.Document.Report, s.Progress.Modules, c.tools.Catalog(), c.today())
	text, err := llm.Prompt(ctx, c.gw, prompt)
	if err != nil {
		return "", fmt.Errorf("generate plan: %w", err)
	}

	steps, parseErr := plan.Parse(ctx, c.gw, text)
	if parseErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warn().Err(parseErr).Msg("plan could not be structured; continuing without steps")
		steps = nil
	}

	s.PlanText = text
	s.Progress.SetSteps(steps)
	c.complete(s, analysis.StagePlanGeneration)

	logger.Info().Int("steps", len(steps)).Msg("plan generated")

	ev := analysis.Event{
		Type:    analysis.EventPlanGenerated,
		Message: fmt.Sprintf("执行计划包含 %d 个步骤", len(steps)),
	}
	if parseErr != nil {
		ev = analysis.Event{Type: analysis.EventPlanParseFailed, Message: parseErr.Error()}
	}
	if err := c.persist(ctx, s, ev); err != nil {
		return text, errors.Join(parseErr, err)
	}
	return text, parseErr
}
