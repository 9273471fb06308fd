package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceOneStep_RequiresPlan(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newScript())
	_, err := h.ctl.AdvanceOneStep(context.Background(), analysis.NewSession(analysis.DocImage, "x"))
	require.ErrorIs(t, err, ErrNoPlan)
}

func TestAdvanceOneStep_EndOfPlanIsIdempotent(t *testing.T) {
	t.Parallel()

	gw := newScript().reply(pfxStep, "步骤报告")
	h := newHarness(t, gw)
	s := plannedSession(step("1", "a", "概况"))

	res, err := h.ctl.AdvanceOneStep(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Done)
	require.NotNil(t, res.Report)
	assert.Equal(t, analysis.StatusCompleted, res.Report.Status)
	assert.Equal(t, analysis.StagePlanExecution, s.Progress.Stage)
	assert.False(t, s.Progress.IsCompleted(analysis.StagePlanExecution))

	for range 3 {
		res, err = h.ctl.AdvanceOneStep(context.Background(), s)
		require.NoError(t, err)
		assert.True(t, res.Done)
		assert.Nil(t, res.Report)
		require.Len(t, res.Reports, 1)
	}

	assert.Equal(t, 1, s.Progress.CurrentStep)
	assert.Equal(t, 1, s.Progress.CompletedSteps)
	require.NoError(t, s.Progress.Check())
	assert.Equal(t, []analysis.Stage{
		analysis.StageDocumentAnalysis,
		analysis.StagePlanGeneration,
		analysis.StagePlanExecution,
	}, s.Progress.CompletedStages)
	assert.Equal(t, []analysis.EventType{analysis.EventStepCompleted, analysis.EventPlanExecuted}, h.store.types())
	assert.Len(t, gw.promptsWith(pfxStep), 1)
}

func TestAdvanceOneStep_SkipsUnmetDependencies(t *testing.T) {
	t.Parallel()

	gw := newScript().on(pfxStep, func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "名称: 第一步"):
			return "", &llm.ModelError{Provider: "script", Err: errors.New("overloaded")}
		case strings.Contains(prompt, "名称: 第二步"):
			return "第二步报告", nil
		default:
			return "第三步报告", nil
		}
	})
	h := newHarness(t, gw)

	first := step("1", "a", "第一步")
	second := step("1", "b", "第二步")
	second.DependsOn = []string{"1.a", "9.z"}
	third := step("2", "a", "第三步")
	third.DependsOn = []string{"1.b"}
	s := plannedSession(first, second, third)

	_, err := Drive(context.Background(), h.ctl, s, nil)
	require.NoError(t, err)

	reports := s.Progress.ExecutionReports
	require.Len(t, reports, 3)
	assert.Equal(t, analysis.StatusFailed, reports[0].Status)
	assert.True(t, strings.HasPrefix(reports[0].Report, "步骤 1 执行失败: "), reports[0].Report)
	assert.Equal(t, analysis.StatusCompleted, reports[1].Status)
	assert.Equal(t, analysis.StatusCompleted, reports[2].Status)

	prompts := gw.promptsWith(pfxStep)
	require.Len(t, prompts, 3)
	assert.NotContains(t, prompts[1], "相关前置步骤信息")
	assert.Contains(t, prompts[2], "相关前置步骤信息")
	assert.Contains(t, prompts[2], "步骤 1.b (第二步) 的分析结果:\n第二步报告")

	assert.Equal(t, 1, h.rec.steps[analysis.StatusFailed])
	assert.Equal(t, 2, h.rec.steps[analysis.StatusCompleted])
}

func TestAdvanceOneStep_RepairReplacesStepInPlace(t *testing.T) {
	t.Parallel()

	stock := &stubTool{name: "stock", out: "只有实时行情"}
	fund := &stubTool{name: "fund", out: "基金持仓数据"}
	gw := newScript().
		reply(pfxValidation, "我无法判断").
		reply(pfxRepair, "```json\n"+`{"name": "基金持仓分析", "content": "基于持仓分析", "uses_tool": true, "tool": "fund", "parameters": {"fund_symbols": ["161725"]}, "expected_output": "持仓结论", "depends_on": []}`+"\n```").
		reply(pfxStep, "调整后的报告")
	h := newHarness(t, gw, stock, fund)

	earlier := step("1", "a", "行情")
	target := step("2", "b", "历史走势")
	target.UsesTool = true
	target.Tool = "stock"
	target.Parameters = map[string]any{"stock_symbols": []any{"600519"}}
	s := plannedSession(earlier, target)

	tooLong := strings.Repeat("价", 250)
	s.Progress.Record(analysis.StepReport{
		Step: 1, FullStepID: "1.a", Module: "模块1", Name: "行情",
		Report: "已完成", Status: analysis.StatusCompleted, ToolOutput: &tooLong,
	})

	res, err := h.ctl.AdvanceOneStep(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Repaired)

	replaced := s.Progress.Steps[1]
	assert.Equal(t, "2.b", replaced.FullStepID)
	assert.Equal(t, "b", replaced.StepID)
	assert.Equal(t, "2", replaced.ModuleID)
	assert.Equal(t, "模块2", replaced.Module)
	assert.Equal(t, "fund", replaced.Tool)
	assert.Equal(t, "基金持仓分析", replaced.Name)
	assert.Equal(t, "持仓结论", replaced.ExpectedOutput)

	report := s.Progress.ExecutionReports[1]
	assert.Equal(t, analysis.StatusCompleted, report.Status)
	assert.Equal(t, "调整后的报告", report.Report)
	require.NotNil(t, report.ToolOutput)
	assert.Equal(t, "基金持仓数据", *report.ToolOutput)
	require.NotNil(t, report.ValidationResult)
	assert.False(t, report.ValidationResult.Matches)
	assert.True(t, strings.HasPrefix(report.ValidationResult.Reason, "解析验证结果失败"))
	assert.Equal(t, []string{}, report.ValidationResult.MissingInfo)

	assert.Len(t, stock.invocations(), 1)
	require.Len(t, fund.invocations(), 1)
	assert.Equal(t, []any{"161725"}, fund.invocations()[0]["fund_symbols"])

	repairPrompts := gw.promptsWith(pfxRepair)
	require.Len(t, repairPrompts, 1)
	assert.Contains(t, repairPrompts[0], `"output_summary": "`+strings.Repeat("价", 200)+`..."`)
	assert.Contains(t, repairPrompts[0], ruleReuseData)
	assert.Len(t, gw.promptsWith(pfxValidation), 1, "a repaired step is not validated again")

	assert.Equal(t, []analysis.EventType{analysis.EventStepRepaired, analysis.EventStepCompleted}, h.store.types())
	assert.Equal(t, 1, h.rec.repaired)
	assert.Equal(t, []bool{false}, h.rec.validations)
}

func TestAdvanceOneStep_RepairFailureFailsStep(t *testing.T) {
	t.Parallel()

	gw := newScript().
		reply(pfxValidation, `{"matches": false, "reason": "缺少历史数据", "missing_info": ["近一年走势"]}`).
		on(pfxRepair, func(string) (string, error) {
			return "", &llm.ModelError{Provider: "script", Err: errors.New("timeout")}
		})
	h := newHarness(t, gw, &stubTool{name: "stock", out: "实时行情"})

	target := step("1", "a", "走势")
	target.UsesTool = true
	target.Tool = "stock"
	s := plannedSession(target)

	res, err := h.ctl.AdvanceOneStep(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Repaired)

	report := s.Progress.ExecutionReports[0]
	assert.Equal(t, analysis.StatusFailed, report.Status)
	assert.True(t, strings.HasPrefix(report.Report, "步骤 1 执行失败: 调整步骤失败"), report.Report)
	require.NotNil(t, report.ToolOutput)
	assert.Equal(t, "实时行情", *report.ToolOutput)
	assert.Equal(t, []string{"近一年走势"}, report.ValidationResult.MissingInfo)
	assert.Equal(t, "stock", s.Progress.Steps[0].Tool)
	assert.Equal(t, 1, s.Progress.CurrentStep)
	assert.Equal(t, []analysis.EventType{analysis.EventStepFailed}, h.store.types())
}

func TestAdvanceOneStep_ToolPanicBecomesText(t *testing.T) {
	t.Parallel()

	gw := newScript().
		reply(pfxValidation, `{"matches": true, "reason": "ok", "missing_info": []}`).
		reply(pfxStep, "报告")
	h := newHarness(t, gw, &stubTool{name: "crash", panics: "boom"})

	target := step("1", "a", "行情")
	target.UsesTool = true
	target.Tool = "crash"
	s := plannedSession(target)

	_, err := h.ctl.AdvanceOneStep(context.Background(), s)
	require.NoError(t, err)

	report := s.Progress.ExecutionReports[0]
	require.NotNil(t, report.ToolOutput)
	assert.Equal(t, "执行工具 'crash' 时发生错误: boom", *report.ToolOutput)
	assert.Equal(t, analysis.StatusCompleted, report.Status)

	stepPrompts := gw.promptsWith(pfxStep)
	require.Len(t, stepPrompts, 1)
	assert.Contains(t, stepPrompts[0], "工具执行结果:\n执行工具 'crash' 时发生错误: boom")
}

func TestAdvanceOneStep_CredentialErrorDoesNotAdvance(t *testing.T) {
	t.Parallel()

	lazy := llm.NewLazy(func() (llm.Gateway, error) {
		return nil, &llm.CredentialError{Provider: "openai", EnvVar: "ARK_API_KEY"}
	})
	ctl := New(lazy, nil, Options{})
	s := plannedSession(step("1", "a", "概况"))

	_, err := ctl.AdvanceOneStep(context.Background(), s)
	var credErr *llm.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, 0, s.Progress.CurrentStep)
	assert.Empty(t, s.Progress.ExecutionReports)
}

func TestAdvanceOneStep_CancelLeavesStepPending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	gw := newScript().on(pfxStep, func(string) (string, error) {
		cancel()
		return "", context.Canceled
	})
	h := newHarness(t, gw)
	s := plannedSession(step("1", "a", "概况"))

	_, err := h.ctl.AdvanceOneStep(ctx, s)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Progress.CurrentStep)
	assert.Empty(t, s.Progress.ExecutionReports)
	assert.Empty(t, h.store.types())
}

func TestDriveThenSynthesize(t *testing.T) {
	t.Parallel()

	gw := newScript().
		on(pfxStep, func(prompt string) (string, error) {
			if strings.Contains(prompt, "名称: 概况") {
				return "概况报告", nil
			}
			return "估值报告", nil
		}).
		reply(pfxSynthesis, "最终报告")
	h := newHarness(t, gw)
	s := plannedSession(step("1", "a", "概况"), step("2", "a", "估值"))

	_, err := h.ctl.Synthesize(context.Background(), s)
	require.ErrorIs(t, err, ErrStageOrder)

	var seen []int
	reports, err := Drive(context.Background(), h.ctl, s, func(_ *analysis.Session, res StepResult) {
		seen = append(seen, res.Report.Step)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
	require.Len(t, reports, 2)

	text, err := h.ctl.Synthesize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "最终报告", text)
	assert.Equal(t, "最终报告", s.FinalReport)
	assert.Equal(t, analysis.StageFinalReport, s.Progress.Stage)
	assert.Equal(t, analysis.Stages[1:], s.Progress.CompletedStages)

	prompts := gw.promptsWith(pfxSynthesis)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "## 步骤 1 [模块1]: 概况\n概况报告\n\n## 步骤 2 [模块2]: 估值\n估值报告")
	assert.Contains(t, prompts[0], ruleNoMissingData)
	assert.Contains(t, prompts[0], s.PlanText)

	assert.Equal(t, []analysis.EventType{
		analysis.EventStepCompleted,
		analysis.EventStepCompleted,
		analysis.EventPlanExecuted,
		analysis.EventReportSynthesized,
	}, h.store.types())
}
