package plan

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kkk0312/mdia/internal/analysis"
)

var errNotJSON = errors.New("response is not JSON")

// DecodeObject unmarshals the JSON object in a model response into v. Code
// fences are stripped and surrounding prose is skipped.
func DecodeObject(raw string, v any) error {
	text := StripFences(raw)
	if !json.Valid([]byte(text)) {
		obj, ok := ExtractJSON(text)
		if !ok {
			return errNotJSON
		}
		text = obj
	}
	return json.Unmarshal([]byte(text), v)
}

// Verdict is a judge response on a tool output.
type Verdict struct {
	Matches     flexBool    `json:"matches"`
	Reason      string      `json:"reason"`
	MissingInfo flexStrings `json:"missing_info"`
}

// DecodeVerdict parses a validation response.
func DecodeVerdict(raw string) (analysis.ValidationResult, error) {
	var v Verdict
	if err := DecodeObject(raw, &v); err != nil {
		return analysis.ValidationResult{}, err
	}
	missing := []string(v.MissingInfo)
	if missing == nil {
		missing = []string{}
	}
	return analysis.ValidationResult{
		Matches:     bool(v.Matches),
		Reason:      v.Reason,
		MissingInfo: missing,
	}, nil
}

// Revision is a redesigned step proposed after a failed validation.
type Revision struct {
	Name           string         `json:"name"`
	Content        string         `json:"content"`
	UsesTool       flexBool       `json:"uses_tool"`
	Tool           string         `json:"tool"`
	Parameters     map[string]any `json:"parameters"`
	ExpectedOutput string         `json:"expected_output"`
	DependsOn      flexStrings    `json:"depends_on"`
}

// DecodeRevision parses a repair response.
func DecodeRevision(raw string) (Revision, error) {
	var r Revision
	err := DecodeObject(raw, &r)
	return r, err
}

// Apply returns a copy of step rewritten by r. The step keeps its identity
// and module; blank names and contents keep the original text.
func (r Revision) Apply(step analysis.Step) analysis.Step {
	out := step.Clone()
	if name := strings.TrimSpace(r.Name); name != "" {
		out.Name = name
	}
	if content := strings.TrimSpace(r.Content); content != "" {
		out.Content = content
	}
	out.Tool = strings.TrimSpace(r.Tool)
	out.UsesTool = bool(r.UsesTool) && out.Tool != ""
	out.Parameters = r.Parameters
	if out.Parameters == nil {
		out.Parameters = map[string]any{}
	}
	out.ExpectedOutput = r.ExpectedOutput
	out.DependsOn = []string(r.DependsOn)
	if out.DependsOn == nil {
		out.DependsOn = []string{}
	}
	return out
}
