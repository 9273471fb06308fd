// Package plan turns free-form plan text into ordered analysis steps.
package plan

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// ParseError reports model output that is not a valid structured plan.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析步骤JSON失败: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const expectedFormat = `{
  "overall_goal": "总体分析目标的简要描述",
  "modules": [
    {
      "module_id": "模块编号，如1",
      "module_name": "模块名称",
      "steps": [
        {
          "step_id": "步骤编号，如a",
          "step_name": "步骤名称",
          "content": "分析内容的详细描述",
          "uses_tool": "布尔值，true或false",
          "tool": "工具名称，如果uses_tool为true",
          "parameters": {
            "参数名称1": "参数值1",
            "参数名称2": "参数值2"
          },
          "expected_output": "该步骤的预期结果",
          "depends_on": ["1.a", "2.b"]
        }
      ]
    }
  ],
  "execution_order": ["1.a", "1.b", "2.a", "..."]
}`

// Prompt builds the structuring request for planText.
func Prompt(planText string) string {
	var b strings.Builder
	b.WriteString("请分析以下执行计划文本，并将其转换为结构化的JSON数据。\n")
	b.WriteString("你的任务是识别出所有模块、每个模块下的步骤，每个步骤的详细信息，以及步骤之间的依赖关系。\n\n")
	b.WriteString("执行计划文本:\n")
	b.WriteString(planText)
	b.WriteString("\n\n依赖关系说明:\n")
	b.WriteString("- 如果步骤B需要使用步骤A的输出结果，则步骤B的\"depends_on\"应包含步骤A的ID\n")
	b.WriteString("- 如果步骤不需要任何其他步骤的输出，则\"depends_on\"应为空列表\n")
	b.WriteString("- 依赖关系必须严格基于执行计划中的明确说明\n\n")
	b.WriteString("请严格按照以下JSON格式返回结果，不要添加任何额外解释：\n")
	b.WriteString(expectedFormat)
	b.WriteString("\n\n注意事项:\n")
	b.WriteString("1. 确保JSON格式正确，可被标准JSON解析器解析\n")
	b.WriteString("2. \"uses_tool\"字段应为布尔值(true/false)\n")
	b.WriteString("3. \"tool\"字段只包含工具名，不要带有例如\"工具1\"之类的额外说明\n")
	b.WriteString("4. \"parameters\"字段必须使用已有信息进行构造，不允许在没有相关信息时编造参数，例如不允许编造报告日期\n")
	b.WriteString("5. 如果步骤不使用工具，\"tool\"字段应为空字符串\n")
	b.WriteString("6. 如果没有参数，\"parameters\"应为空对象\n")
	b.WriteString("7. \"execution_order\"应包含所有步骤的完整标识符，如\"1.a\"、\"1.b\"等\n")
	b.WriteString("8. 保留所有原始信息，不要遗漏任何模块或步骤\n")
	return b.String()
}

// Parse asks gw to structure planText and returns the ordered steps. Gateway
// failures are returned as is; unusable output is a *ParseError.
func Parse(ctx context.Context, gw llm.Gateway, planText string) ([]analysis.Step, error) {
	raw, err := llm.Prompt(ctx, gw, Prompt(planText))
	if err != nil {
		return nil, fmt.Errorf("structure plan: %w", err)
	}
	doc, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	steps := Steps(doc)
	log.Debug().Int("modules", len(doc.Modules)).Int("steps", len(steps)).Msg("plan parsed")
	return steps, nil
}

// Decode parses and schema-validates a model response.
func Decode(raw string) (*Document, error) {
	text := StripFences(raw)
	if !json.Valid([]byte(text)) {
		obj, ok := ExtractJSON(text)
		if !ok {
			return nil, &ParseError{Raw: raw, Err: fmt.Errorf("response is not JSON")}
		}
		text = obj
	}

	var generic any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if err := validate(generic); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	var doc Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return &doc, nil
}

func validate(doc any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate plan schema: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("plan schema validation failed: %s", strings.Join(errs, "; "))
}

// Steps flattens doc into steps, assigning unique full ids and applying the
// declared execution order.
func Steps(doc *Document) []analysis.Step {
	var steps []analysis.Step
	seen := make(map[string]struct{})
	for _, m := range doc.Modules {
		moduleID := string(m.ModuleID)
		moduleName := strings.TrimSpace(m.ModuleName)
		if moduleName == "" {
			moduleName = "模块 " + moduleID
		}
		for _, rs := range m.Steps {
			stepID := string(rs.StepID)
			full := analysis.FullID(moduleID, stepID)
			for n := 2; ; n++ {
				if _, dup := seen[full]; !dup {
					break
				}
				stepID = fmt.Sprintf("%s_%d", string(rs.StepID), n)
				full = analysis.FullID(moduleID, stepID)
			}
			seen[full] = struct{}{}

			name := strings.TrimSpace(rs.StepName)
			if name == "" {
				name = "步骤 " + full
			}
			params := rs.Parameters
			if params == nil {
				params = map[string]any{}
			}
			deps := []string(rs.DependsOn)
			if deps == nil {
				deps = []string{}
			}
			tool := strings.TrimSpace(rs.Tool)

			steps = append(steps, analysis.Step{
				Module:         moduleName,
				ModuleID:       moduleID,
				StepID:         stepID,
				FullStepID:     full,
				Name:           name,
				Content:        rs.Content,
				UsesTool:       bool(rs.UsesTool) && tool != "",
				Tool:           tool,
				Parameters:     params,
				ExpectedOutput: rs.ExpectedOutput,
				DependsOn:      deps,
			})
		}
	}
	return Reorder(steps, doc.ExecutionOrder)
}

// Reorder places steps named in order first, then the rest in their original
// order.
func Reorder(steps []analysis.Step, order []string) []analysis.Step {
	if len(order) == 0 || len(steps) == 0 {
		return steps
	}
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.FullStepID] = i
	}
	used := make([]bool, len(steps))
	out := make([]analysis.Step, 0, len(steps))
	for _, id := range order {
		i, ok := index[strings.TrimSpace(id)]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		out = append(out, steps[i])
	}
	for i, s := range steps {
		if !used[i] {
			out = append(out, s)
		}
	}
	return out
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		// Drop the info string, e.g. "json".
		if !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSON returns the outermost {...} span of s.
func ExtractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || start >= end {
		return "", false
	}
	return s[start : end+1], true
}
