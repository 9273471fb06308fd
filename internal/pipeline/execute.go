package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/kkk0312/mdia/internal/plan"
)

// StepResult is the outcome of one AdvanceOneStep call.
type StepResult struct {
	// Done is true when every step had already been executed and the call
	// only finalized the execution stage.
	Done bool
	// Report is the report recorded by this call. It is nil when Done.
	Report   *analysis.StepReport
	Repaired bool
	// Reports holds every execution report recorded so far.
	Reports []analysis.StepReport
}

// AdvanceOneStep executes the next step of the plan and records its report.
// Once all steps have run it marks plan execution completed and returns the
// reports; calling it again after that is a no-op.
func (c *Controller) AdvanceOneStep(ctx context.Context, s *analysis.Session) (StepResult, error) {
	p := &s.Progress
	if !p.IsCompleted(analysis.StagePlanGeneration) {
		return StepResult{}, ErrNoPlan
	}
	if p.Done() {
		if c.complete(s, analysis.StagePlanExecution) {
			c.sessionLogger(s).Info().Int("steps", p.TotalSteps).Msg("plan executed")
			if err := c.persist(ctx, s, analysis.Event{
				Type:    analysis.EventPlanExecuted,
				Message: fmt.Sprintf("已执行 %d 个步骤", p.TotalSteps),
			}); err != nil {
				return StepResult{Done: true, Reports: p.ExecutionReports}, err
			}
		}
		return StepResult{Done: true, Reports: p.ExecutionReports}, nil
	}
	if err := c.ready(); err != nil {
		return StepResult{}, err
	}

	idx := p.CurrentStep
	start := time.Now()
	report, replacement := c.runStep(ctx, s, idx)
	if ctx.Err() != nil {
		// The step stays pending so it can be resumed.
		return StepResult{}, ctx.Err()
	}

	if replacement != nil {
		p.Steps[idx] = *replacement
	}
	p.Record(report)
	p.Enter(analysis.StagePlanExecution)
	elapsed := time.Since(start)
	c.opts.Recorder.StepFinished(report.Status, replacement != nil, elapsed)

	c.sessionLogger(s).Info().
		Int("step", idx+1).
		Int("total", p.TotalSteps).
		Str("step_id", report.FullStepID).
		Str("status", string(report.Status)).
		Bool("repaired", replacement != nil).
		Dur("elapsed", elapsed).
		Msg("step finished")

	res := StepResult{Report: &report, Repaired: replacement != nil, Reports: p.ExecutionReports}

	if replacement != nil {
		if err := c.persist(ctx, s, analysis.Event{
			Type:    analysis.EventStepRepaired,
			Step:    idx + 1,
			Message: fmt.Sprintf("步骤 %s 已调整为: %s", report.FullStepID, replacement.Name),
		}); err != nil {
			return res, err
		}
	}
	ev := analysis.Event{Type: analysis.EventStepCompleted, Step: idx + 1, Message: report.Name}
	if !report.Completed() {
		ev = analysis.Event{Type: analysis.EventStepFailed, Step: idx + 1, Message: report.Report}
	}
	if err := c.persist(ctx, s, ev); err != nil {
		return res, err
	}
	return res, nil
}

// runStep executes step idx on a private copy. It returns the report and,
// when the step was redesigned, the step that replaces it in the plan.
func (c *Controller) runStep(ctx context.Context, s *analysis.Session, idx int) (analysis.StepReport, *analysis.Step) {
	step := s.Progress.Steps[idx].Clone()
	report := analysis.StepReport{
		Step:       idx + 1,
		FullStepID: step.FullStepID,
		Module:     step.Module,
		Name:       step.Name,
		Status:     analysis.StatusFailed,
	}
	fail := func(err error) analysis.StepReport {
		report.Report = fmt.Sprintf("步骤 %d 执行失败: %v", idx+1, err)
		report.Status = analysis.StatusFailed
		return report
	}

	var replacement *analysis.Step
	if step.UsesTool && step.Tool != "" {
		out := c.tools.Execute(ctx, step.Tool, step.Parameters, step.Content)
		report.ToolOutput = &out

		verdict := c.validate(ctx, step, out)
		report.ValidationResult = &verdict
		c.opts.Recorder.Validation(verdict.Matches)

		if !verdict.Matches {
			repaired, err := c.repair(ctx, s, idx, step, out, verdict)
			if err != nil {
				return fail(err), nil
			}
			step = repaired
			replacement = &repaired
			report.Name = step.Name
			if step.UsesTool {
				out = c.tools.Execute(ctx, step.Tool, step.Parameters, step.Content)
				report.ToolOutput = &out
			}
		}
	}

	body, err := llm.Prompt(ctx, c.gw, stepPrompt(step, s.Document.Report, c.dependencies(s, step), report.ToolOutput))
	if err != nil {
		return fail(err), replacement
	}
	report.Report = body
	report.Status = analysis.StatusCompleted
	return report, replacement
}

// dependencies collects the completed reports of the steps step depends on.
// Unmet dependencies are skipped.
func (c *Controller) dependencies(s *analysis.Session, step analysis.Step) []dependency {
	p := &s.Progress
	var deps []dependency
	for _, id := range step.DependsOn {
		pos := -1
		for i, st := range p.Steps {
			if st.FullStepID == id {
				pos = i
				break
			}
		}
		if pos < 0 {
			continue
		}
		r, ok := reportFor(p.ExecutionReports, id, pos)
		if !ok || !r.Completed() {
			continue
		}
		deps = append(deps, dependency{
			StepID:     id,
			StepName:   p.Steps[pos].Name,
			Report:     r.Report,
			ToolOutput: r.ToolOutput,
		})
	}
	return deps
}

func reportFor(reports []analysis.StepReport, id string, pos int) (analysis.StepReport, bool) {
	for _, r := range reports {
		if r.FullStepID == id {
			return r, true
		}
	}
	for _, r := range reports {
		if r.FullStepID == "" && r.Step == pos+1 {
			return r, true
		}
	}
	return analysis.StepReport{}, false
}

// validate asks the model whether output serves step. Judge failures yield a
// non-matching verdict that explains what went wrong.
func (c *Controller) validate(ctx context.Context, step analysis.Step, output string) analysis.ValidationResult {
	reject := func(reason string) analysis.ValidationResult {
		return analysis.ValidationResult{Matches: false, Reason: reason, MissingInfo: []string{}}
	}
	raw, err := llm.Prompt(ctx, c.gw, validationPrompt(step, output))
	if err != nil {
		return reject("验证工具输出失败: " + err.Error())
	}
	if strings.TrimSpace(raw) == "" {
		return reject("模型未返回有效响应")
	}
	v, err := plan.DecodeVerdict(raw)
	if err != nil {
		return reject("解析验证结果失败: " + err.Error())
	}
	return v
}

// repair asks the model to redesign step once, given what the tool returned
// and what earlier steps produced.
func (c *Controller) repair(ctx context.Context, s *analysis.Session, idx int, step analysis.Step, output string, v analysis.ValidationResult) (analysis.Step, error) {
	done := make([]completedSummary, 0, idx)
	for i := 0; i < idx && i < len(s.Progress.Steps); i++ {
		if i >= len(s.Progress.ExecutionReports) || !s.Progress.ExecutionReports[i].Completed() {
			continue
		}
		st := s.Progress.Steps[i]
		r := s.Progress.ExecutionReports[i]
		summary := ""
		if r.ToolOutput != nil {
			summary = truncate(*r.ToolOutput, c.opts.RepairSummaryChars) + "..."
		}
		done = append(done, completedSummary{
			StepID:        st.FullStepID,
			Name:          st.Name,
			Tool:          st.Tool,
			OutputSummary: summary,
		})
	}

	raw, err := llm.Prompt(ctx, c.gw, repairPrompt(step, output, v, c.tools.Catalog(), c.today(), done))
	if err != nil {
		return analysis.Step{}, fmt.Errorf("调整步骤失败: %w", err)
	}
	rev, err := plan.DecodeRevision(raw)
	if err != nil {
		return analysis.Step{}, fmt.Errorf("解析调整结果失败: %w", err)
	}
	repaired := rev.Apply(step)

	c.sessionLogger(s).Info().
		Str("step_id", step.FullStepID).
		Str("tool", repaired.Tool).
		Str("params", paramsJSON(repaired.Parameters)).
		Msg("step redesigned")
	return repaired, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ExportReports renders reports as indented JSON.
func ExportReports(reports []analysis.StepReport) ([]byte, error) {
	if reports == nil {
		reports = []analysis.StepReport{}
	}
	return json.MarshalIndent(reports, "", "  ")
}
