// Package render turns analysis reports into markdown documents and renders
// them for the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/kkk0312/mdia/internal/analysis"
)

const defaultWidth = 100

// Markdown assembles the full report of s: the final synthesis when present,
// followed by every step report.
func Markdown(s *analysis.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title())
	fmt.Fprintf(&b, "- 分析编号: %s\n", s.ID)
	fmt.Fprintf(&b, "- 来源: %s\n", s.Source)
	fmt.Fprintf(&b, "- 时间: %s\n\n", s.CreatedAt.Local().Format("2006-01-02 15:04"))

	if strings.TrimSpace(s.FinalReport) != "" {
		b.WriteString("## 综合报告\n\n")
		b.WriteString(strings.TrimSpace(s.FinalReport))
		b.WriteString("\n\n")
	}
	if len(s.Progress.ExecutionReports) > 0 {
		b.WriteString("## 分步报告\n\n")
		for _, r := range s.Progress.ExecutionReports {
			fmt.Fprintf(&b, "### 步骤 %d: %s - %s\n\n", r.Step, r.Module, r.Name)
			if !r.Completed() {
				b.WriteString("> 执行失败\n\n")
			}
			b.WriteString(strings.TrimSpace(r.Report))
			b.WriteString("\n\n")
		}
	}
	if s.FinalReport == "" && len(s.Progress.ExecutionReports) == 0 && s.Document.Report != "" {
		b.WriteString("## 文档分析\n\n")
		b.WriteString(strings.TrimSpace(s.Document.Report))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Terminal renders markdown for a terminal of the given width. A non-positive
// width selects a default.
func Terminal(md string, width int) (string, error) {
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}
