package tui

import (
	"context"
	"errors"
	"testing"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStepper struct {
	steps   int
	failAt  int
	synthed bool
}

func (f *fakeStepper) AdvanceOneStep(_ context.Context, s *analysis.Session) (pipeline.StepResult, error) {
	p := &s.Progress
	if p.Done() {
		p.Enter(analysis.StagePlanExecution)
		p.MarkCompleted(analysis.StagePlanExecution)
		return pipeline.StepResult{Done: true, Reports: p.ExecutionReports}, nil
	}
	f.steps++
	if f.failAt == f.steps {
		return pipeline.StepResult{}, errors.New("credential missing")
	}
	r := analysis.StepReport{Step: p.CurrentStep + 1, Name: p.Steps[p.CurrentStep].Name, Status: analysis.StatusCompleted}
	p.Record(r)
	p.Enter(analysis.StagePlanExecution)
	return pipeline.StepResult{Report: &r, Reports: p.ExecutionReports}, nil
}

func (f *fakeStepper) Synthesize(_ context.Context, s *analysis.Session) (string, error) {
	f.synthed = true
	s.FinalReport = "最终报告"
	s.Progress.Enter(analysis.StageFinalReport)
	s.Progress.MarkCompleted(analysis.StageFinalReport)
	return s.FinalReport, nil
}

func plannedSession() *analysis.Session {
	s := analysis.NewSession(analysis.DocImage, "a.png")
	for _, st := range []analysis.Stage{analysis.StageDocumentAnalysis, analysis.StagePlanGeneration} {
		s.Progress.Enter(st)
		s.Progress.MarkCompleted(st)
	}
	s.Progress.SetSteps([]analysis.Step{
		{Module: "行业分析", Name: "概况", Content: "梳理行业"},
		{Module: "个股分析", Name: "估值", Content: "估值对比", UsesTool: true, Tool: "个股股票分析工具"},
	})
	return s
}

// drive feeds command results back into the model until it stops issuing
// step or synthesis commands.
func drive(t *testing.T, m Model) Model {
	t.Helper()
	cmd := m.next()
	for i := 0; i < 10 && cmd != nil; i++ {
		msg := cmd()
		switch msg.(type) {
		case stepMsg, synthMsg:
		default:
			return m
		}
		next, c := m.Update(msg)
		m = next.(Model)
		cmd = c
		if !m.busy {
			return m
		}
	}
	return m
}

func TestModel_RunsToFinalReport(t *testing.T) {
	t.Parallel()

	s := plannedSession()
	f := &fakeStepper{}
	m := drive(t, New(context.Background(), f, s))

	require.NoError(t, m.Err())
	assert.True(t, m.Finished())
	assert.True(t, f.synthed)
	assert.Equal(t, 2, f.steps)

	view := m.View()
	assert.Contains(t, view, "行业分析 (1/1)")
	assert.Contains(t, view, "✓ 步骤 2: 估值 [个股股票分析工具]")
	assert.Contains(t, view, "2/2")
	assert.Contains(t, view, "✅ 生成最终报告")
}

func TestModel_StopsOnError(t *testing.T) {
	t.Parallel()

	s := plannedSession()
	m := drive(t, New(context.Background(), &fakeStepper{failAt: 2}, s))

	require.EqualError(t, m.Err(), "credential missing")
	assert.False(t, m.Finished())
	assert.Equal(t, 1, s.Progress.CompletedSteps)
	assert.Contains(t, m.View(), "错误: credential missing")
}

func TestStageRow(t *testing.T) {
	t.Parallel()

	s := plannedSession()
	s.Progress.Enter(analysis.StagePlanExecution)
	row := StageRow(&s.Progress)
	assert.Equal(t, []string{"✅ 文档解析", "✅ 生成执行计划", "🔄 执行计划", "⏸️ 生成最终报告"}, row)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "贵州...", preview("贵州茅台", 2))
	assert.Equal(t, "abc", preview(" abc ", 5))
}
