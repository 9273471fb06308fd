package pipeline

import (
	"testing"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/stretchr/testify/assert"
)

func TestDocumentPrompts(t *testing.T) {
	t.Parallel()

	page := pagePrompt(4, 3)
	assert.Contains(t, page, "第 4 页")
	assert.Contains(t, page, "最多分三个模块")
	for _, rule := range []string{ruleNoUI, ruleKeepAllData, ruleFullTables} {
		assert.Contains(t, page, rule)
	}

	web := documentPrompt(analysis.DocWeb)
	assert.Contains(t, web, "这张网页")
	assert.NotContains(t, web, "最多分")
	assert.Contains(t, documentPrompt(analysis.DocImage), "这张图片")

	assert.Equal(t, "12", cnNumber(12))
}

func TestPlanPrompt(t *testing.T) {
	t.Parallel()

	p := planPrompt("报告正文", []string{"行业分析", "个股分析"}, "# 可用工具列表（含参数说明）\n", "2025-03-14")
	assert.Contains(t, p, ruleNoVerification)
	assert.Contains(t, p, "报告正文")
	assert.Contains(t, p, "行业分析, 个股分析")
	assert.Contains(t, p, "当前日期为 2025-03-14")
	assert.Contains(t, p, "依赖步骤：1.a")
	assert.Contains(t, p, "# 计划执行顺序")
}

func TestStepPrompt(t *testing.T) {
	t.Parallel()

	st := analysis.Step{Module: "行业分析", Name: "概况", Content: "梳理", ExpectedOutput: "结论"}

	withoutTool := stepPrompt(st, "文档", nil, nil)
	assert.NotContains(t, withoutTool, "工具执行结果")
	assert.Contains(t, withoutTool, "请基于前置步骤信息")

	out := "行情数据"
	withTool := stepPrompt(st, "文档", []dependency{{StepID: "1.a", StepName: "前置", Report: "前置报告"}}, &out)
	assert.Contains(t, withTool, "步骤 1.a (前置) 的分析结果:\n前置报告")
	assert.Contains(t, withTool, "工具执行结果:\n行情数据")

	empty := ""
	assert.NotContains(t, stepPrompt(st, "文档", nil, &empty), "工具执行结果")
}

func TestValidationAndRepairPrompts(t *testing.T) {
	t.Parallel()

	st := analysis.Step{FullStepID: "1.a", Name: "行情", Tool: "stock", Parameters: map[string]any{"stock_symbols": []string{"600519"}}}

	v := validationPrompt(st, "输出")
	assert.Contains(t, v, `- 请求参数: {"stock_symbols":["600519"]}`)
	assert.Contains(t, v, `"missing_info"`)

	r := repairPrompt(st, "输出", analysis.ValidationResult{Reason: "缺数据"}, "目录", "2025-03-14", nil)
	assert.Contains(t, r, "- 是否符合预期: 否")
	assert.Contains(t, r, "- 缺失信息: 无")
	assert.Contains(t, r, "已完成的步骤：\n[]")
	assert.Contains(t, r, "当前日期为 2025-03-14")
	assert.Contains(t, r, ruleReuseData)
}

func TestTruncateCountsRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "贵州", truncate("贵州茅台", 2))
	assert.Equal(t, "abc", truncate("abc", 5))
}
