package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the structured plan returned by the model.
type Document struct {
	OverallGoal    string      `json:"overall_goal"`
	Modules        []Module    `json:"modules"`
	ExecutionOrder flexStrings `json:"execution_order"`
}

// Module is one analysis module of the plan.
type Module struct {
	ModuleID   flexString `json:"module_id"`
	ModuleName string     `json:"module_name"`
	Steps      []RawStep  `json:"steps"`
}

// RawStep is a step as emitted by the model, before normalization.
type RawStep struct {
	StepID         flexString     `json:"step_id"`
	StepName       string         `json:"step_name"`
	Content        string         `json:"content"`
	UsesTool       flexBool       `json:"uses_tool"`
	Tool           string         `json:"tool"`
	Parameters     map[string]any `json:"parameters"`
	ExpectedOutput string         `json:"expected_output"`
	DependsOn      flexStrings    `json:"depends_on"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts a JSON bool, or a string or number spelling one.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1", "是":
			*f = true
		default:
			*f = false
		}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n != 0
		return nil
	}
	*f = false
	return nil
}

// flexStrings accepts an array of strings or numbers, or one comma separated
// string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		var out []string
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '，' || r == '、' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*f = out
		return nil
	}
	var items []flexString
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != "" {
			out = append(out, string(item))
		}
	}
	*f = out
	return nil
}
