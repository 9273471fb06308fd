package adkexec

import (
	"context"
	"fmt"
	"iter"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/rs/zerolog/log"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/workflowagents/loopagent"
	"google.golang.org/adk/session"
)

const (
	stateIteration = "iteration"
	stateDone      = "done"
)

// Drive executes the remaining plan steps of s through an ADK loop agent. The
// loop's single sub-agent advances one step per iteration and ends the
// invocation once plan execution is complete.
func Drive(ctx context.Context, c *pipeline.Controller, s *analysis.Session, observe pipeline.StepObserver) ([]analysis.StepReport, error) {
	stepAgent, err := agent.New(agent.Config{
		Name:        "PlanStep",
		Description: "Executes the next step of an analysis plan.",
		Run:         stepRun(c, s, observe),
	})
	if err != nil {
		return nil, fmt.Errorf("create step agent: %w", err)
	}

	// One iteration per step plus the completion call.
	maxIterations := uint(s.Progress.TotalSteps-s.Progress.CurrentStep) + 1
	loop, err := loopagent.New(loopagent.Config{
		MaxIterations: maxIterations,
		AgentConfig: agent.Config{
			Name:        "PlanExecution",
			Description: "Runs plan steps until every step has been executed.",
			SubAgents:   []agent.Agent{stepAgent},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create plan loop agent: %w", err)
	}

	out, err := invoke(ctx, s.ID, loop, map[string]any{stateIteration: 1})
	if err != nil {
		return s.Progress.ExecutionReports, err
	}
	if !out.Done && s.Progress.CurrentStep < s.Progress.TotalSteps {
		return s.Progress.ExecutionReports, fmt.Errorf("plan loop stopped at step %d of %d", s.Progress.CurrentStep, s.Progress.TotalSteps)
	}
	return s.Progress.ExecutionReports, nil
}

func stepRun(c *pipeline.Controller, s *analysis.Session, observe pipeline.StepObserver) func(agent.InvocationContext) iter.Seq2[*session.Event, error] {
	return func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			if ctx.Ended() {
				return
			}

			iteration := 1
			if v, err := ctx.Session().State().Get(stateIteration); err == nil {
				if n, ok := v.(int); ok && n > 0 {
					iteration = n
				}
			}

			res, err := c.AdvanceOneStep(ctx, s)
			if err != nil {
				yield(nil, err)
				return
			}
			if res.Done {
				log.Debug().Str("analysis_id", s.ID).Int("iteration", iteration).Msg("plan loop finished")
				_ = ctx.Session().State().Set(stateDone, true)
				ctx.EndInvocation()
				return
			}
			if observe != nil {
				observe(s, res)
			}
			if err := ctx.Session().State().Set(stateIteration, iteration+1); err != nil {
				yield(nil, fmt.Errorf("set iteration in session: %w", err))
				return
			}
		}
	}
}
