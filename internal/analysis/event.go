package analysis

import "time"

// EventType names a lifecycle event of an analysis.
type EventType string

const (
	EventDocumentAnalyzed  EventType = "document_analyzed"
	EventPlanGenerated     EventType = "plan_generated"
	EventPlanParseFailed   EventType = "plan_parse_failed"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepRepaired      EventType = "step_repaired"
	EventPlanExecuted      EventType = "plan_executed"
	EventReportSynthesized EventType = "report_synthesized"
)

// Event is one entry of an analysis event log. Step is 1-based, 0 when the
// event is not tied to a step.
type Event struct {
	Seq     int       `json:"seq"`
	Type    EventType `json:"type"`
	Step    int       `json:"step,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Page is one rasterized page of a PDF.
type Page struct {
	Number int
	PNG    []byte
}
