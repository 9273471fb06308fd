package analysis

import (
	"fmt"
	"slices"
)

// TaskProgress is the staged progress of one analysis.
type TaskProgress struct {
	Stage            Stage        `json:"stage"`
	CompletedStages  []Stage      `json:"completed_stages"`
	Modules          []string     `json:"modules"`
	Steps            []Step       `json:"steps"`
	CurrentStep      int          `json:"current_step"`
	CompletedSteps   int          `json:"completed_steps"`
	TotalSteps       int          `json:"total_steps"`
	ExecutionReports []StepReport `json:"execution_reports"`
}

// NewTaskProgress returns progress positioned at the initial stage.
func NewTaskProgress() TaskProgress {
	return TaskProgress{
		Stage:            StageInitial,
		CompletedStages:  []Stage{},
		Modules:          []string{},
		Steps:            []Step{},
		ExecutionReports: []StepReport{},
	}
}

// IsCompleted reports whether stage has been marked completed.
func (p *TaskProgress) IsCompleted(stage Stage) bool {
	return slices.Contains(p.CompletedStages, stage)
}

// MarkCompleted records stage as completed. It returns false when the stage
// was already recorded.
func (p *TaskProgress) MarkCompleted(stage Stage) bool {
	if p.IsCompleted(stage) {
		return false
	}
	p.CompletedStages = append(p.CompletedStages, stage)
	return true
}

// Enter moves the current stage forward to stage. Moving backwards is ignored
// and reported as false.
func (p *TaskProgress) Enter(stage Stage) bool {
	if stage.Index() < p.Stage.Index() {
		return false
	}
	p.Stage = stage
	return true
}

// SetSteps installs a freshly parsed plan and resets all counters.
func (p *TaskProgress) SetSteps(steps []Step) {
	if steps == nil {
		steps = []Step{}
	}
	p.Steps = steps
	p.TotalSteps = len(steps)
	p.CurrentStep = 0
	p.CompletedSteps = 0
	p.ExecutionReports = []StepReport{}
}

// Done reports whether every step has been attempted.
func (p *TaskProgress) Done() bool {
	return p.CurrentStep >= p.TotalSteps
}

// Record stores report at the position of the current step and advances the
// step counters.
func (p *TaskProgress) Record(report StepReport) {
	idx := p.CurrentStep
	if idx < len(p.ExecutionReports) {
		p.ExecutionReports[idx] = report
	} else {
		p.ExecutionReports = append(p.ExecutionReports, report)
	}
	p.CurrentStep = idx + 1
	p.CompletedSteps = idx + 1
}

// Fraction returns completed/total in [0,1].
func (p *TaskProgress) Fraction() float64 {
	if p.TotalSteps == 0 {
		return 0
	}
	return float64(p.CompletedSteps) / float64(p.TotalSteps)
}

// Check verifies the counter invariant.
func (p *TaskProgress) Check() error {
	if !p.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", p.Stage)
	}
	if p.TotalSteps != len(p.Steps) {
		return fmt.Errorf("total_steps=%d but %d steps", p.TotalSteps, len(p.Steps))
	}
	if p.CompletedSteps != p.CurrentStep {
		return fmt.Errorf("completed_steps=%d differs from current_step=%d", p.CompletedSteps, p.CurrentStep)
	}
	if p.CurrentStep < 0 || p.CurrentStep > p.TotalSteps {
		return fmt.Errorf("current_step=%d out of range [0,%d]", p.CurrentStep, p.TotalSteps)
	}
	return nil
}

// StepState is the display state of a step.
type StepState string

const (
	StepDone    StepState = "done"
	StepActive  StepState = "active"
	StepPending StepState = "pending"
)

// StepView is a step together with its position and display state.
type StepView struct {
	Index int
	Step  Step
	State StepState
}

// ModuleGroup is the set of steps belonging to one module, in plan order.
type ModuleGroup struct {
	Module string
	Done   int
	Steps  []StepView
}

// ModuleGroups groups the plan's steps by module, keeping the first-seen
// module order and the plan order of steps inside each module.
func (p *TaskProgress) ModuleGroups() []ModuleGroup {
	var groups []ModuleGroup
	pos := make(map[string]int)
	for i, step := range p.Steps {
		state := StepPending
		switch {
		case i < p.CompletedSteps:
			state = StepDone
		case i == p.CurrentStep && p.CompletedSteps < p.TotalSteps:
			state = StepActive
		}
		g, ok := pos[step.Module]
		if !ok {
			g = len(groups)
			pos[step.Module] = g
			groups = append(groups, ModuleGroup{Module: step.Module})
		}
		groups[g].Steps = append(groups[g].Steps, StepView{Index: i, Step: step, State: state})
		if state == StepDone {
			groups[g].Done++
		}
	}
	return groups
}
