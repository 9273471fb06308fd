package analysis

import "fmt"

// Step is one atomic unit of analysis work within a module.
type Step struct {
	Module         string         `json:"module"`
	ModuleID       string         `json:"module_id"`
	StepID         string         `json:"step_id"`
	FullStepID     string         `json:"full_step_id"`
	Name           string         `json:"name"`
	Content        string         `json:"content"`
	UsesTool       bool           `json:"uses_tool"`
	Tool           string         `json:"tool"`
	Parameters     map[string]any `json:"parameters"`
	ExpectedOutput string         `json:"expected_output"`
	DependsOn      []string       `json:"depends_on"`
}

// FullID composes the plan-wide identifier of a step.
func FullID(moduleID, stepID string) string {
	return fmt.Sprintf("%s.%s", moduleID, stepID)
}

// Clone returns a copy that shares no maps or slices with s.
func (s Step) Clone() Step {
	out := s
	if s.Parameters != nil {
		out.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			out.Parameters[k] = v
		}
	}
	if s.DependsOn != nil {
		out.DependsOn = append([]string(nil), s.DependsOn...)
	}
	return out
}

// StepStatus is the outcome of an executed step.
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// ValidationResult is the judge verdict for one tool invocation.
type ValidationResult struct {
	Matches     bool     `json:"matches"`
	Reason      string   `json:"reason"`
	MissingInfo []string `json:"missing_info"`
}

// StepReport records the outcome of one executed step.
// Step is the 1-based position of the originating step in the plan.
type StepReport struct {
	Step             int               `json:"step"`
	FullStepID       string            `json:"full_step_id,omitempty"`
	Module           string            `json:"module"`
	Name             string            `json:"name"`
	Report           string            `json:"report"`
	Status           StepStatus        `json:"status"`
	ToolOutput       *string           `json:"tool_output"`
	ValidationResult *ValidationResult `json:"validation_result"`
}

// Completed reports whether the step finished successfully.
func (r StepReport) Completed() bool {
	return r.Status == StatusCompleted
}

// DocumentResult is the outcome of the document analysis stage.
type DocumentResult struct {
	Tickers   []string `json:"tickers"`
	Companies []string `json:"companies"`
	Report    string   `json:"report"`
	Modules   []string `json:"modules"`
}

// EmptyDocumentResult is the well-typed result returned when analysis fails.
func EmptyDocumentResult() DocumentResult {
	return DocumentResult{
		Tickers:   []string{},
		Companies: []string{},
		Report:    "",
		Modules:   []string{},
	}
}

// IsEmpty reports whether the result carries no analysis.
func (d DocumentResult) IsEmpty() bool {
	return d.Report == "" && len(d.Tickers) == 0 && len(d.Modules) == 0
}
