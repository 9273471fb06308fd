package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kkk0312/mdia/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name   string
	out    string
	err    error
	panics any

	mu       sync.Mutex
	params   map[string]any
	fallback string
}

func (f *fakeTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        f.name,
		Description: "fake " + f.name,
		Params:      []Param{{Name: "symbol", Type: "str", Description: "代码"}},
	}
}

func (f *fakeTool) Invoke(_ context.Context, params map[string]any, fallback string) (string, error) {
	f.mu.Lock()
	f.params = params
	f.fallback = fallback
	f.mu.Unlock()
	if f.panics != nil {
		panic(f.panics)
	}
	return f.out, f.err
}

func TestRegistry_ExecuteConvertsFailuresToText(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Second)
	require.NoError(t, reg.Register(&fakeTool{name: "ok", out: "result"}))
	require.NoError(t, reg.Register(&fakeTool{name: "bad", err: errors.New("数据源不可用")}))
	require.NoError(t, reg.Register(&fakeTool{name: "boom", panics: "nil map"}))

	ctx := context.Background()
	assert.Equal(t, "result", reg.Execute(ctx, "ok", nil, ""))
	assert.Equal(t, "执行工具 'bad' 时发生错误: 数据源不可用", reg.Execute(ctx, "bad", nil, ""))
	assert.Equal(t, "执行工具 'boom' 时发生错误: nil map", reg.Execute(ctx, "boom", nil, ""))
	assert.Equal(t, "错误：未知工具 'nope'，无法执行。可用工具：ok, bad, boom", reg.Execute(ctx, "nope", nil, ""))

	_, err := reg.Run(ctx, "nope", nil, "")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistry_PassesParamsAndFallback(t *testing.T) {
	t.Parallel()

	tool := &fakeTool{name: "ok"}
	reg := NewRegistry(0)
	require.NoError(t, reg.Register(tool))

	var observed []string
	reg.Observe(func(name string, _ time.Duration, err error) {
		observed = append(observed, name)
		assert.NoError(t, err)
	})

	reg.Execute(context.Background(), "ok", map[string]any{"symbol": "600000"}, "步骤内容")
	assert.Equal(t, map[string]any{"symbol": "600000"}, tool.params)
	assert.Equal(t, "步骤内容", tool.fallback)
	assert.Equal(t, []string{"ok"}, observed)

	reg.Execute(context.Background(), "ok", nil, "")
	assert.NotNil(t, tool.params)
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	require.NoError(t, reg.Register(&fakeTool{name: "a"}))
	assert.Error(t, reg.Register(&fakeTool{name: "a"}))
	assert.Error(t, reg.Register(&fakeTool{name: " "}))
	assert.True(t, reg.Has("a"))
	assert.Equal(t, []string{"a"}, reg.Names())
}

func TestRegistry_Catalog(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0)
	require.NoError(t, reg.Register(&StockTool{}))
	require.NoError(t, reg.Register(&FundTool{}))

	catalog := reg.Catalog()
	assert.True(t, strings.HasPrefix(catalog, "# 可用工具列表（含参数说明）\n1. 工具名称：个股股票分析工具\n"))
	assert.Contains(t, catalog, "   - stock_symbols（类型：list[str]，默认值：必填）：")
	assert.Contains(t, catalog, "   - market_type（类型：str，默认值：A股）：市场类型，如 A股")
	assert.Contains(t, catalog, "\n\n2. 工具名称：公募基金分析工具\n")
}

func TestSymbols(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		params   map[string]any
		fallback string
		want     []string
	}{
		{name: "list", params: map[string]any{"stock_symbols": []any{"600036", "600000", "600036"}}, want: []string{"600000", "600036"}},
		{name: "single", params: map[string]any{"stock_symbols": "600519"}, want: []string{"600519"}},
		{name: "json number", params: map[string]any{"stock_symbols": []any{float64(1)}}, want: []string{"000001"}},
		{name: "fallback", params: map[string]any{}, fallback: "分析600519与000858的估值", want: []string{"000858", "600519"}},
		{name: "params win over fallback", params: map[string]any{"stock_symbols": []any{"600000"}}, fallback: "600519", want: []string{"600000"}},
		{name: "none", params: map[string]any{}, fallback: "无代码", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Symbols(tt.params, "stock_symbols", tt.fallback))
		})
	}
}

func TestStockTool_PerSymbolSections(t *testing.T) {
	t.Parallel()

	gw := llm.GatewayFunc(func(_ context.Context, parts []llm.Part) (string, error) {
		if strings.Contains(parts[0].Value, "600036") {
			return "", errors.New("timeout")
		}
		return "基本面良好", nil
	})
	tool := &StockTool{Gateway: gw, Now: func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }}

	out, err := tool.Invoke(context.Background(), map[string]any{"stock_symbols": []any{"600036", "600000"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "### 个股分析: 600000\n基本面良好\n\n### 个股分析: 600036\n分析失败：timeout", out)

	out, err = tool.Invoke(context.Background(), map[string]any{}, "没有代码")
	require.NoError(t, err)
	assert.Equal(t, "错误：未找到有效的A股股票代码（需为6位数字），无法执行分析。", out)
}

func TestFundTool_UsesFramework(t *testing.T) {
	t.Parallel()

	var prompt string
	gw := llm.GatewayFunc(func(_ context.Context, parts []llm.Part) (string, error) {
		prompt = parts[0].Value
		return "持有", nil
	})
	out, err := (&FundTool{Gateway: gw}).Invoke(context.Background(), map[string]any{"fund_symbols": "110011"}, "")
	require.NoError(t, err)
	assert.Equal(t, "### 基金分析: 110011\n持有", out)
	assert.Contains(t, prompt, "基金代码：110011")
	assert.Contains(t, prompt, "夏普比率")
}

func TestNewExternalTool_Validates(t *testing.T) {
	t.Parallel()

	_, err := NewExternalTool(ExternalConfig{Cmd: []string{"true"}})
	assert.Error(t, err)
	_, err = NewExternalTool(ExternalConfig{Name: "行业数据工具"})
	assert.Error(t, err)
}
