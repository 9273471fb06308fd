package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kkk0312/mdia/internal/analysis"
)

// Rules shared by the document prompts. They keep the model on financial
// content and stop it from summarizing tables away.
const (
	ruleNoUI           = "不要分析UI界面的交互逻辑，只需要分析内容和数据就行。不要分析任何与数据和内容无关的东西，不要分析网页界面中的任何模块，是要针对金融领域的内容和数据进行分析。必须遵守这条规则"
	ruleKeepAllData    = "必须要提取所有的数据和内容，任何数据都不能省略，必须要保留所有的数据。但是不要分析UI界面中的任何像按钮、筛选、下拉框这些东西。必须遵守这条规则"
	ruleFullTables     = "如果有数据表必须要保留全部数据，不能有任何省略。但是不要分析UI界面中的任何像按钮、筛选、下拉框这些东西。必须遵守这条规则"
	ruleNoVerification = "绝对强制要求：计划中不需要验证信息准确性与完整性和一致性什么的，步骤中不允许出现对信息准确性、完整性和一致性的验证。不允许出现任何验证计划，不允许验证，不需要验证任何数据和内容"
	ruleReuseData      = "绝对强制要求：新步骤必须基于已获取的数据来设计步骤计划，不允许再要求获取其他数据。例如之前工具返回的数据是实时数据，没有近一个月或者近一年的数据，那就必须调整步骤为要求获取实时数据的步骤。而不是继续要求获取历史数据。"
	ruleNoMissingData  = "要保证所有数据绝对真实准确，存在缺失数据不允许说缺失数据，而是应该改变分析策略，不分析没有数据的这部分"
)

var cnDigits = []string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九", "十"}

func cnNumber(n int) string {
	if n >= 0 && n < len(cnDigits) {
		return cnDigits[n]
	}
	return fmt.Sprint(n)
}

func pagePrompt(page, maxModules int) string {
	limit := cnNumber(maxModules)
	var b strings.Builder
	fmt.Fprintf(&b, "请全面分析这张PDF第 %d 页的内容，包括所有财务信息、图表、表格、文本内容和市场数据。\n\n", page)
	b.WriteString("您的任务是：\n")
	b.WriteString("1. 详细解析本页内容，识别所有相关的信息\n")
	fmt.Fprintf(&b, "2. 将内容划分为有逻辑的模块（例如：行业分析、个股分析、市场趋势等），最多分%s个模块，最多只能分为%s个模块，必须遵守这条规则\n", limit, limit)
	b.WriteString("3. 为每个模块提供详细分析\n")
	b.WriteString("4. " + ruleNoUI + "\n")
	b.WriteString("5. " + ruleKeepAllData + "\n")
	b.WriteString("6. " + ruleFullTables + "\n\n")
	b.WriteString("请按以下结构组织您的回答：\n")
	b.WriteString("- 总体概述：本页内容的简要总结\n")
	b.WriteString("- 个股股票代码：列出出现的A股股票代码（6位数字），没有则写无\n")
	b.WriteString("- 公司名称：按股票代码顺序列出对应的公司名称\n")
	b.WriteString("- 模块划分：列出识别出的内容模块\n")
	b.WriteString("- 模块分析：对每个模块进行详细分析\n")
	return b.String()
}

func documentPrompt(docType analysis.DocType) string {
	kind := "图片"
	if docType == analysis.DocWeb {
		kind = "网页"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "请全面分析这张%s中的内容，包括所有财务信息、图表、表格、文本内容和市场数据。\n\n", kind)
	b.WriteString("您的任务是：\n")
	fmt.Fprintf(&b, "1. 详细解析%s内容，识别所有相关的信息\n", kind)
	b.WriteString("2. 将内容划分为有逻辑的模块（例如：行业分析、个股分析、市场趋势等）\n")
	b.WriteString("3. 为每个模块提供详细分析\n")
	b.WriteString("4. " + ruleNoUI + "\n")
	b.WriteString("5. " + ruleKeepAllData + "\n")
	b.WriteString("6. " + ruleFullTables + "\n\n")
	b.WriteString("请按以下结构组织您的回答：\n")
	fmt.Fprintf(&b, "- 总体概述：%s内容的简要总结\n", kind)
	b.WriteString("- 个股股票代码：列出出现的A股股票代码（6位数字），没有则写无\n")
	b.WriteString("- 公司名称：按股票代码顺序列出对应的公司名称\n")
	b.WriteString("- 模块划分：列出识别出的内容模块\n")
	b.WriteString("- 模块分析：对每个模块进行详细分析\n")
	return b.String()
}

func planPrompt(report string, modules []string, catalog, today string) string {
	var b strings.Builder
	b.WriteString("根据以下文档分析报告和识别出的内容模块，为接下来的深度解析生成详细的多层级执行计划。\n")
	b.WriteString("执行计划应具有视觉吸引力，层次分明，易于阅读和理解。\n")
	b.WriteString(ruleNoVerification + "\n")
	b.WriteString(catalog)
	b.WriteString("\n\n文档分析报告:\n")
	b.WriteString(report)
	b.WriteString("\n\n识别出的内容模块:\n")
	b.WriteString(strings.Join(modules, ", "))
	b.WriteString("\n\n您的任务是:\n")
	b.WriteString("1. 为每个模块设计1-2个详细的分析步骤，形成清晰的层级结构\n")
	b.WriteString("2. " + ruleNoVerification + "\n")
	b.WriteString("3. 每个步骤必须有明确的目标和预期输出\n")
	b.WriteString("4. 明确每个步骤是否需要使用工具，如需要，说明工具名称和参数\n")
	b.WriteString("5. 使用的工具必须是工具列表中存在的工具，严格禁止使用工具列表中不存在的工具\n")
	b.WriteString("6. 使用的工具必须和内容相关，不允许在不存在工具参数的时候使用工具\n")
	b.WriteString("7. 必须严格基于报告生成工具调用参数，绝对不允许编造参数\n")
	b.WriteString("8. 绝对强制要求：计划中不需要验证信息准确性与完整性，步骤中不允许出现对信息准确性和完整性的验证\n")
	b.WriteString("9. 如果工具和当前步骤高度相关，但工具所需必要参数难以从报告中提取，则不选择调用该工具\n")
	fmt.Fprintf(&b, "   - 当前日期为 %s\n", today)
	b.WriteString("   - 如果工具需要日期参数但报告中未明确指出报告日期，则对于需要给出单个日期的工具选择当前日期作为输入参数，对于需要给出范围日期的工具选择最近一周作为输入参数，绝对不允许自行假设日期参数\n")
	b.WriteString("10. 确保计划逻辑清晰，按合理顺序排列\n")
	b.WriteString("11. **关键要求：明确步骤间依赖关系**\n")
	b.WriteString("   - 如果步骤B需要使用步骤A的输出结果，则必须在步骤B中注明“依赖步骤：A的ID”\n")
	b.WriteString("   - 例如：步骤1.b依赖步骤1.a的结果，则在步骤1.b中添加“依赖步骤：1.a”\n")
	b.WriteString("12. 使用清晰的标题和格式，使计划易于阅读和理解\n")
	b.WriteString("13. 绝对强制要求：必须基于真实的内容设计计划，不允许任何假设或编造！\n")
	b.WriteString("14. 每个步骤只能选择一个工具调用\n")
	b.WriteString("15. 计划中不需要验证信息准确性与完整性。不允许出现任何验证计划，不允许验证，不需要验证任何数据和内容\n")
	b.WriteString("16. 计划主要应该是解决文档分析中对文档内容分析为什么，怎么做的问题\n")
	b.WriteString("17. 工具参数即使有默认值也必须要显式给出参数值\n\n")
	b.WriteString("执行计划必须采用以下严格格式，使用数字和字母编号区分模块和步骤：\n")
	b.WriteString(planFormat)
	return b.String()
}

const planFormat = `# 总体分析目标
[简要描述整体分析目标]

# 模块分析计划
## 1. [模块名称1]
   ### a. 步骤1: [步骤名称]
      - 分析内容: [详细描述需要分析的内容]
      - 使用工具: [是/否，如果是，说明工具名称]
      - 参数: [如使用工具，列出所需参数]
      - 预期输出: [描述该步骤的预期结果]
      - 依赖步骤: [如果有依赖，填写依赖的步骤ID，如"1.a"；无依赖则填"无"]
   ### b. 步骤2: [步骤名称]
      - 分析内容: [详细描述需要分析的内容]
      - 使用工具: [是/否，如果是，说明工具名称]
      - 参数: [如使用工具，列出所需参数]
      - 预期输出: [描述该步骤的预期结果]
      - 依赖步骤: [如果有依赖，填写依赖的步骤ID，如"1.a"；无依赖则填"无"]
   ...
## 2. [模块名称2]
   ### a. 步骤1: [步骤名称]
      - 分析内容: [详细描述需要分析的内容]
      - 使用工具: [是/否，如果是，说明工具名称]
      - 参数: [如使用工具，列出所需参数]
      - 预期输出: [描述该步骤的预期结果]
      - 依赖步骤: [如果有依赖，填写依赖的步骤ID，如"1.b"；无依赖则填"无"]
   ...

# 计划执行顺序
[说明模块和步骤的执行顺序，如：1.a → 1.b → 2.a → ...]
`

func paramsJSON(params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func orText(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func validationPrompt(step analysis.Step, output string) string {
	var b strings.Builder
	b.WriteString("请判断以下工具执行结果是否符合步骤要求：\n\n")
	b.WriteString("步骤信息：\n")
	fmt.Fprintf(&b, "- 步骤名称: %s\n", orText(step.Name, "未命名步骤"))
	fmt.Fprintf(&b, "- 分析内容: %s\n", orText(step.Content, "无内容"))
	fmt.Fprintf(&b, "- 预期输出: %s\n", orText(step.ExpectedOutput, "无预期输出"))
	fmt.Fprintf(&b, "- 使用工具: %s\n", orText(step.Tool, "无工具"))
	fmt.Fprintf(&b, "- 请求参数: %s\n\n", paramsJSON(step.Parameters))
	b.WriteString("工具执行结果：\n")
	b.WriteString(output)
	b.WriteString("\n\n您的判断标准：\n")
	b.WriteString("1. 工具返回的数据是否能够满足该步骤的分析需求\n")
	b.WriteString("2. 返回的数据是否与请求参数相关\n")
	b.WriteString("3. 数据是否完整到可以基于此进行下一步分析\n\n")
	b.WriteString("请只返回一个JSON对象，包含：\n")
	b.WriteString("- \"matches\": 布尔值，表示结果是否符合要求\n")
	b.WriteString("- \"reason\": 字符串，说明判断理由\n")
	b.WriteString("- \"missing_info\": 字符串数组，列出缺失的关键信息（如无缺失则为空数组）\n")
	return b.String()
}

// completedSummary is the digest of an earlier step given to the repair prompt.
type completedSummary struct {
	StepID        string `json:"step_id"`
	Name          string `json:"name"`
	Tool          string `json:"tool"`
	OutputSummary string `json:"output_summary"`
}

func repairPrompt(step analysis.Step, output string, v analysis.ValidationResult, catalog, today string, done []completedSummary) string {
	matches := "否"
	if v.Matches {
		matches = "是"
	}
	missing := strings.Join(v.MissingInfo, ", ")
	if missing == "" {
		missing = "无"
	}
	if done == nil {
		done = []completedSummary{}
	}
	doneJSON, err := json.MarshalIndent(done, "", "  ")
	if err != nil {
		doneJSON = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("由于工具执行结果不符合预期，需要重新设计当前步骤。\n")
	b.WriteString(ruleReuseData + "\n\n")
	b.WriteString(catalog)
	b.WriteString("\n\n当前步骤信息：\n")
	fmt.Fprintf(&b, "- 步骤ID: %s\n", orText(step.FullStepID, "未知"))
	fmt.Fprintf(&b, "- 步骤名称: %s\n", orText(step.Name, "未命名步骤"))
	fmt.Fprintf(&b, "- 所属模块: %s\n", orText(step.Module, "未分类模块"))
	fmt.Fprintf(&b, "- 原分析内容: %s\n", orText(step.Content, "无内容"))
	fmt.Fprintf(&b, "- 原使用工具: %s\n", orText(step.Tool, "无工具"))
	fmt.Fprintf(&b, "- 原请求参数: %s\n", paramsJSON(step.Parameters))
	fmt.Fprintf(&b, "- 原预期输出: %s\n\n", orText(step.ExpectedOutput, "无预期输出"))
	b.WriteString("工具实际执行结果：\n")
	b.WriteString(output)
	b.WriteString("\n\n验证结果：\n")
	fmt.Fprintf(&b, "- 是否符合预期: %s\n", matches)
	fmt.Fprintf(&b, "- 原因: %s\n", orText(v.Reason, "无"))
	fmt.Fprintf(&b, "- 缺失信息: %s\n\n", missing)
	b.WriteString("已完成的步骤：\n")
	b.Write(doneJSON)
	b.WriteString("\n\n您的任务：\n")
	b.WriteString("1. 基于实际工具输出和已完成步骤的结果，重新设计当前步骤\n")
	b.WriteString("2. " + ruleReuseData + "\n")
	b.WriteString("3. 调整使用的工具或参数，确保能够获得有效的分析结果\n")
	b.WriteString("4. 保持与其他步骤的依赖关系，但可以适当调整\n")
	b.WriteString("5. 必须使用工具列表中存在的工具，参数必须基于已有信息\n")
	b.WriteString("6. 工具参数即使有默认值也必须要显式给出参数值\n")
	fmt.Fprintf(&b, "7. 当前日期为 %s\n", today)
	b.WriteString("8. 每个步骤只能选择一个工具调用，不允许使用多个工具\n\n")
	b.WriteString("请只返回一个JSON对象，包含调整后的步骤信息：\n")
	b.WriteString(`{
  "name": "新步骤名称",
  "content": "新的分析内容",
  "uses_tool": true,
  "tool": "工具名称（如果使用工具）",
  "parameters": {
    "参数名称1": "参数值1",
    "参数名称2": "参数值2"
  },
  "expected_output": "调整后的预期输出",
  "depends_on": ["依赖的步骤ID列表"]
}`)
	b.WriteString("\n")
	return b.String()
}

// dependency is the context an earlier completed step contributes.
type dependency struct {
	StepID     string
	StepName   string
	Report     string
	ToolOutput *string
}

func stepPrompt(step analysis.Step, documentReport string, deps []dependency, toolOutput *string) string {
	lines := []string{
		"请根据以下分析步骤要求，进行详细分析并生成报告：",
		"\n分析步骤:",
		"模块: " + orText(step.Module, "未命名模块"),
		"名称: " + orText(step.Name, "未命名步骤"),
		"内容: " + orText(step.Content, "无内容"),
		"预期输出: " + orText(step.ExpectedOutput, "无预期输出"),
		"\n文档初步分析信息:",
		documentReport,
	}
	if len(deps) > 0 {
		lines = append(lines, "\n相关前置步骤信息:")
		for _, d := range deps {
			lines = append(lines, fmt.Sprintf("步骤 %s (%s) 的分析结果:", d.StepID, d.StepName), d.Report)
		}
	}
	if toolOutput != nil && *toolOutput != "" {
		lines = append(lines,
			"\n工具执行结果:",
			*toolOutput,
			"\n请基于上述工具执行结果、前置步骤信息和分析步骤要求，生成分析报告。",
		)
	} else {
		lines = append(lines, "\n请基于前置步骤信息（如有时）和分析步骤要求，提供详细分析报告。")
	}
	return strings.Join(lines, "\n")
}

// stepSections renders step reports the way the synthesis prompt expects.
func stepSections(reports []analysis.StepReport) string {
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "## 步骤 %d [%s]: %s\n%s\n\n", r.Step, r.Module, r.Name, r.Report)
	}
	return b.String()
}

func synthesisPrompt(documentReport, planText string, reports []analysis.StepReport) string {
	var b strings.Builder
	b.WriteString("作为资深金融分析师，请将以下所有分析内容整合成一份全面、深入的最终综合报告：\n\n")
	b.WriteString("1. 文档初步分析报告：\n")
	b.WriteString(documentReport)
	b.WriteString("\n\n2. 执行计划：\n")
	b.WriteString(planText)
	b.WriteString("\n\n3. 各步骤执行结果：\n")
	b.WriteString(stepSections(reports))
	b.WriteString("\n您的最终综合报告应：\n")
	b.WriteString("- 保留所有之前分析报告的关键内容\n")
	b.WriteString("- 按逻辑顺序组织，结构清晰\n")
	b.WriteString("- 增加更深入的分析和见解\n")
	b.WriteString("- 使用专业的术语，同时保持可读性\n")
	b.WriteString("- " + ruleNoMissingData + "\n")
	return b.String()
}
