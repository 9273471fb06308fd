package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{Name: "echo", Description: "returns its context", Params: []tools.Param{{Name: "x", Type: "str"}}}
}

func (echoTool) Invoke(_ context.Context, params map[string]any, fallback string) (string, error) {
	if params["fail"] == true {
		return "", errors.New("boom")
	}
	return "echo:" + fallback, nil
}

type fakeReports struct{ s *analysis.Session }

func (f fakeReports) Resolve(_ context.Context, ref string) (*analysis.Session, error) {
	if ref != "" && ref != f.s.ID {
		return nil, errors.New("analysis not found")
	}
	return f.s, nil
}

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestServer_ToolsAndReport(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry(0)
	require.NoError(t, reg.Register(echoTool{}))
	s := analysis.NewSession(analysis.DocImage, "a.png")
	s.FinalReport = "最终结论"

	cs := connect(t, New(reg, fakeReports{s: s}, "test"))
	ctx := context.Background()

	list, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tl := range list.Tools {
		names[tl.Name] = true
	}
	assert.True(t, names["echo"])
	assert.True(t, names[ReportTool])

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"context": "600519"}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "echo:600519", text(t, res))

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"parameters": map[string]any{"fail": true}}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "执行工具 'echo' 时发生错误: boom", text(t, res))

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: ReportTool, Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "最终结论")
}

func TestMCPName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stock_analysis", mcpName(tools.StockToolName, 0))
	assert.Equal(t, "echo", mcpName("echo", 1))
	assert.Equal(t, "tool_3", mcpName("行业工具", 2))
}
