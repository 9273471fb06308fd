package plan

import (
	"fmt"

	"github.com/kkk0312/mdia/internal/analysis"
	"gopkg.in/yaml.v3"
)

type exportStep struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Content        string         `yaml:"content,omitempty"`
	Tool           string         `yaml:"tool,omitempty"`
	Parameters     map[string]any `yaml:"parameters,omitempty"`
	ExpectedOutput string         `yaml:"expected_output,omitempty"`
	DependsOn      []string       `yaml:"depends_on,omitempty"`
}

type exportModule struct {
	ID    string       `yaml:"id"`
	Name  string       `yaml:"name"`
	Steps []exportStep `yaml:"steps"`
}

type exportPlan struct {
	Modules        []exportModule `yaml:"modules"`
	ExecutionOrder []string       `yaml:"execution_order"`
}

// ExportYAML renders steps grouped by module, keeping execution order as a
// separate list.
func ExportYAML(steps []analysis.Step) ([]byte, error) {
	var out exportPlan
	pos := make(map[string]int)
	for _, s := range steps {
		out.ExecutionOrder = append(out.ExecutionOrder, s.FullStepID)
		i, ok := pos[s.ModuleID]
		if !ok {
			i = len(out.Modules)
			pos[s.ModuleID] = i
			out.Modules = append(out.Modules, exportModule{ID: s.ModuleID, Name: s.Module})
		}
		es := exportStep{
			ID:             s.FullStepID,
			Name:           s.Name,
			Content:        s.Content,
			ExpectedOutput: s.ExpectedOutput,
			DependsOn:      s.DependsOn,
		}
		if s.UsesTool {
			es.Tool = s.Tool
			es.Parameters = s.Parameters
		}
		out.Modules[i].Steps = append(out.Modules[i].Steps, es)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal plan yaml: %w", err)
	}
	return data, nil
}
