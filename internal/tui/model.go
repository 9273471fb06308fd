// Package tui shows plan execution progress in the terminal, advancing one
// step per command.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/pipeline"
)

const contentPreview = 100

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	moduleStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
)

// Stepper is the part of the controller the TUI drives.
type Stepper interface {
	AdvanceOneStep(ctx context.Context, s *analysis.Session) (pipeline.StepResult, error)
	Synthesize(ctx context.Context, s *analysis.Session) (string, error)
}

type stepMsg struct {
	res pipeline.StepResult
	err error
}

type synthMsg struct {
	report string
	err    error
}

// snapshot is what View renders. It is rebuilt in Update so View never reads
// the session while a command is mutating it.
type snapshot struct {
	title     string
	stages    []string
	groups    []analysis.ModuleGroup
	failed    map[int]bool
	completed int
	total     int
	last      string
}

// Model is the bubbletea model for a running analysis.
type Model struct {
	ctx      context.Context
	ctrl     Stepper
	session  *analysis.Session
	spinner  spinner.Model
	bar      progress.Model
	view     snapshot
	busy     bool
	finished bool
	err      error
	width    int
}

// New returns a model that executes the remaining steps of s and then
// synthesizes the final report.
func New(ctx context.Context, ctrl Stepper, s *analysis.Session) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := Model{
		ctx:     ctx,
		ctrl:    ctrl,
		session: s,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient()),
		busy:    true,
		width:   80,
	}
	m.view = takeSnapshot(s)
	return m
}

// Err returns the error that stopped the run, if any.
func (m Model) Err() error {
	return m.err
}

// Finished reports whether the final report was produced.
func (m Model) Finished() bool {
	return m.finished
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

func (m Model) next() tea.Cmd {
	ctx, ctrl, s := m.ctx, m.ctrl, m.session
	if s.Progress.IsCompleted(analysis.StagePlanExecution) {
		return func() tea.Msg {
			report, err := ctrl.Synthesize(ctx, s)
			return synthMsg{report: report, err: err}
		}
	}
	return func() tea.Msg {
		res, err := ctrl.AdvanceOneStep(ctx, s)
		return stepMsg{res: res, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.err = context.Canceled
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width-20)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case stepMsg:
		m.view = takeSnapshot(m.session)
		if msg.err != nil {
			m.err = msg.err
			m.busy = false
			return m, tea.Quit
		}
		if msg.res.Report != nil {
			m.view.last = fmt.Sprintf("步骤 %d %s: %s", msg.res.Report.Step, statusLabel(*msg.res.Report), msg.res.Report.Name)
			if msg.res.Repaired {
				m.view.last += " (已调整)"
			}
		}
		return m, m.next()
	case synthMsg:
		m.view = takeSnapshot(m.session)
		m.busy = false
		m.err = msg.err
		m.finished = msg.err == nil
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	v := m.view
	var b strings.Builder
	b.WriteString(titleStyle.Render(v.title))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(v.stages, "  "))
	b.WriteString("\n\n")

	fraction := 0.0
	if v.total > 0 {
		fraction = float64(v.completed) / float64(v.total)
	}
	fmt.Fprintf(&b, "%s %d/%d\n\n", m.bar.ViewAs(fraction), v.completed, v.total)

	for _, g := range v.groups {
		b.WriteString(moduleStyle.Render(fmt.Sprintf("%s (%d/%d)", g.Module, g.Done, len(g.Steps))))
		b.WriteString("\n")
		for _, sv := range g.Steps {
			b.WriteString("  ")
			b.WriteString(m.stepLine(sv, v.failed[sv.Index]))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(failedStyle.Render("错误: " + m.err.Error()))
	case m.finished:
		b.WriteString(doneStyle.Render("✅ 最终报告已生成"))
	case m.busy:
		b.WriteString(m.spinner.View() + " " + v.last)
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("q 退出"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) stepLine(sv analysis.StepView, failed bool) string {
	head := fmt.Sprintf("步骤 %d: %s", sv.Index+1, sv.Step.Name)
	content := preview(sv.Step.Content, contentPreview)
	tool := ""
	if sv.Step.UsesTool && sv.Step.Tool != "" {
		tool = " [" + sv.Step.Tool + "]"
	}
	switch {
	case sv.State == analysis.StepDone && failed:
		return failedStyle.Render("✗ " + head + tool)
	case sv.State == analysis.StepDone:
		return doneStyle.Render("✓ " + head + tool)
	case sv.State == analysis.StepActive:
		return activeStyle.Render(m.spinner.View()+head+tool) + "\n    " + hintStyle.Render(content)
	default:
		return pendingStyle.Render("· " + head + tool)
	}
}

func takeSnapshot(s *analysis.Session) snapshot {
	p := &s.Progress
	snap := snapshot{
		title:     s.Title(),
		groups:    p.ModuleGroups(),
		failed:    make(map[int]bool),
		completed: p.CompletedSteps,
		total:     p.TotalSteps,
	}
	for i, r := range p.ExecutionReports {
		if !r.Completed() {
			snap.failed[i] = true
		}
	}
	snap.stages = StageRow(p)
	return snap
}

// StageRow renders every stage after initial with its completion marker.
func StageRow(p *analysis.TaskProgress) []string {
	var row []string
	for _, st := range analysis.Stages[1:] {
		mark := "⏸️"
		switch {
		case p.IsCompleted(st):
			mark = "✅"
		case p.Stage == st:
			mark = "🔄"
		}
		row = append(row, mark+" "+st.Label())
	}
	return row
}

func statusLabel(r analysis.StepReport) string {
	if r.Completed() {
		return "完成"
	}
	return "失败"
}

func preview(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

// Run executes the model until the report is synthesized or the user quits.
func Run(ctx context.Context, ctrl Stepper, s *analysis.Session) error {
	final, err := tea.NewProgram(New(ctx, ctrl, s)).Run()
	if err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}
