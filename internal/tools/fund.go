package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kkk0312/mdia/internal/llm"
)

// FundTool analyzes public mutual funds with a fixed fundamental framework.
type FundTool struct {
	Gateway llm.Gateway
}

var _ Tool = (*FundTool)(nil)

// Descriptor implements Tool.
func (t *FundTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        FundToolName,
		Description: "专门分析多个公募基金的工具，可以根据基金代码分析多个公募基金的基本面、风险收益特征与长期业绩。",
		Params: []Param{
			{Name: "fund_symbols", Type: "list[str]", Description: "基金代码列表，6位数字，如 [\"000001\"]"},
		},
	}
}

// Invoke implements Tool.
func (t *FundTool) Invoke(ctx context.Context, params map[string]any, fallback string) (string, error) {
	codes := Symbols(params, "fund_symbols", fallback)
	if len(codes) == 0 {
		return "错误：未找到有效的基金代码（需为6位数字），无法执行分析。", nil
	}
	return analyzeEach(ctx, codes, "基金分析", func(ctx context.Context, code string) (string, error) {
		return llm.Prompt(ctx, t.Gateway, fundPrompt(code))
	}), nil
}

func fundPrompt(code string) string {
	var b strings.Builder
	b.WriteString("你是一位专业的基金基本面分析师。\n")
	fmt.Fprintf(&b, "任务：对（基金代码：%s）进行全面基本面分析\n", code)
	b.WriteString("按以下框架输出结构化报告：\n\n")
	b.WriteString("### 一、基金产品基础分析\n")
	b.WriteString("- 基金公司实力：管理规模排名、权益投资能力评级、风控体系完善度\n")
	b.WriteString("- 基金经理：从业年限、历史年化回报、最大回撤控制能力（近3年）、投资风格稳定性\n")
	b.WriteString("- 产品特性：基金类型、运作方式、规模变动趋势（警惕＜1亿清盘风险）\n")
	b.WriteString("- 费率结构：管理费+托管费总成本、浮动费率机制、申购赎回费率\n\n")
	b.WriteString("### 二、风险收益特征分析\n")
	b.WriteString("- 核心指标：夏普比率(＞1为优)、卡玛比率(＞0.5合格)、波动率、下行捕获率\n")
	b.WriteString("- 极端风险控制：最大回撤率及修复时长，熊市期间相对沪深300的表现\n\n")
	b.WriteString("### 三、长期业绩评估\n")
	b.WriteString("- 收益维度：3年/5年年化收益率（扣除费率）、超额收益(Alpha)、业绩持续性\n")
	b.WriteString("- 基准对比：滚动3年跑赢业绩比较基准的概率、不同市场环境适应性\n\n")
	b.WriteString("### 四、综合价值评估\n")
	b.WriteString("- 持仓穿透估值：重仓股PE/PB分位数、债券久期与利差\n")
	b.WriteString("- 组合性价比：股债性价比、场内基金折溢价率\n\n")
	b.WriteString("### 五、投资决策建议\n")
	b.WriteString("- 强制输出中文操作建议（买入/增持/持有/减持/卖出）\n\n")
	b.WriteString("禁止事项：禁止假设数据；禁止使用英文建议(buy/sell/hold)。")
	return b.String()
}
