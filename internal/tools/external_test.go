package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func externalRegistry(t *testing.T, script string) *Registry {
	t.Helper()
	tool, err := NewExternalTool(ExternalConfig{
		Name:        "行业数据工具",
		Description: "行业数据",
		Cmd:         []string{"sh", "-c", script},
	})
	require.NoError(t, err)
	reg := NewRegistry(0)
	require.NoError(t, reg.Register(tool))
	return reg
}

func TestExternalTool_ReportFromOutputFile(t *testing.T) {
	t.Parallel()

	// Echo the requested code back from input.json; stdout is ignored.
	script := `code=$(grep -o '60[0-9][0-9][0-9][0-9]' input.json | head -n 1); ` +
		`echo noise; printf '{"report":"行业数据 %s"}' "$code" > output.json`
	reg := externalRegistry(t, script)

	out := reg.Execute(context.Background(), "行业数据工具", map[string]any{"stock_symbols": "600519"}, "分析白酒行业")
	assert.Equal(t, "行业数据 600519", out)
}

func TestExternalTool_FailingExit(t *testing.T) {
	t.Parallel()

	reg := externalRegistry(t, `echo boom >&2; exit 3`)

	out := reg.Execute(context.Background(), "行业数据工具", map[string]any{}, "")
	assert.True(t, strings.HasPrefix(out, "执行工具 '行业数据工具' 时发生错误: "), out)
	assert.Contains(t, out, "exit 3")

	_, err := reg.Run(context.Background(), "行业数据工具", nil, "")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "行业数据工具", toolErr.Tool)
}
