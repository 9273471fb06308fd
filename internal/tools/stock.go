package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kkk0312/mdia/internal/llm"
	"github.com/rs/zerolog/log"
)

const (
	StockToolName = "个股股票分析工具"
	FundToolName  = "公募基金分析工具"
)

// StockTool analyzes A-share stocks one symbol at a time through the model
// gateway.
type StockTool struct {
	Gateway llm.Gateway
	Now     func() time.Time
}

var _ Tool = (*StockTool)(nil)

// Descriptor implements Tool.
func (t *StockTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        StockToolName,
		Description: "批量分析多个个股的工具。根据股票代码列表和市场类型，逐个分析个股行情（基本面、市场表现、核心决策结论）并汇总结果。",
		Params: []Param{
			{Name: "stock_symbols", Type: "list[str]", Description: "股票代码列表，6位数字，如 [\"600000\", \"600036\"]"},
			{Name: "market_type", Type: "str", Default: "A股", Description: "市场类型，如 A股"},
		},
	}
}

// Invoke implements Tool.
func (t *StockTool) Invoke(ctx context.Context, params map[string]any, fallback string) (string, error) {
	codes := Symbols(params, "stock_symbols", fallback)
	if len(codes) == 0 {
		return "错误：未找到有效的A股股票代码（需为6位数字），无法执行分析。", nil
	}
	market := StringParam(params, "market_type", "A股")
	date := now(t.Now).Format(time.DateOnly)

	return analyzeEach(ctx, codes, "个股分析", func(ctx context.Context, code string) (string, error) {
		return llm.Prompt(ctx, t.Gateway, stockPrompt(code, market, date))
	}), nil
}

func stockPrompt(code, market, date string) string {
	var b strings.Builder
	b.WriteString("你是一位专业的股票基本面分析师。\n")
	fmt.Fprintf(&b, "任务：对（股票代码：%s，市场：%s）进行分析，分析日期：%s。\n", code, market, date)
	b.WriteString("请按以下结构输出：\n")
	b.WriteString("#### Market Report\n市场表现与技术面概况\n\n")
	b.WriteString("#### Fundamentals Report\n财务数据、盈利能力、估值水平\n\n")
	b.WriteString("#### Sentiment Report\n市场情绪与资金面\n\n")
	b.WriteString("#### News Report\n近期新闻与公告\n\n")
	b.WriteString("#### 核心决策结论\n给出中文操作建议（买入/增持/持有/减持/卖出）及理由\n\n")
	b.WriteString("禁止事项：禁止编造无法确认的数据；禁止使用英文建议(buy/sell/hold)。")
	return b.String()
}

type symbolFunc func(ctx context.Context, code string) (string, error)

// analyzeEach runs fn for every code, capturing per-symbol failures in the
// symbol's own section.
func analyzeEach(ctx context.Context, codes []string, heading string, fn symbolFunc) string {
	sections := make([]string, 0, len(codes))
	for i, code := range codes {
		log.Debug().Str("symbol", code).Int("index", i+1).Int("total", len(codes)).Msg(heading)
		body, err := fn(ctx, code)
		switch {
		case err != nil:
			body = "分析失败：" + err.Error()
		case strings.TrimSpace(body) == "":
			body = "无分析结果"
		}
		sections = append(sections, fmt.Sprintf("### %s: %s\n%s", heading, code, body))
	}
	return strings.Join(sections, "\n\n")
}

func now(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now()
}
