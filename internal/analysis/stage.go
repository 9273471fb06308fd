// Package analysis holds the per-document session state driven by the pipeline.
package analysis

// Stage is one lifecycle phase of a single document's analysis.
type Stage string

const (
	StageInitial          Stage = "initial"
	StageDocumentAnalysis Stage = "document_analysis"
	StagePlanGeneration   Stage = "plan_generation"
	StagePlanExecution    Stage = "plan_execution"
	StageFinalReport      Stage = "final_report"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{
	StageInitial,
	StageDocumentAnalysis,
	StagePlanGeneration,
	StagePlanExecution,
	StageFinalReport,
}

var stageLabels = map[Stage]string{
	StageInitial:          "初始化",
	StageDocumentAnalysis: "文档解析",
	StagePlanGeneration:   "生成执行计划",
	StagePlanExecution:    "执行计划",
	StageFinalReport:      "生成最终报告",
}

// Index returns the position of the stage in lifecycle order, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Label returns the display name of the stage.
func (s Stage) Label() string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return string(s)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// DocType identifies the kind of source document.
type DocType string

const (
	DocImage DocType = "image"
	DocPDF   DocType = "pdf"
	DocWeb   DocType = "web"
)

// Valid reports whether d is a supported document type.
func (d DocType) Valid() bool {
	switch d {
	case DocImage, DocPDF, DocWeb:
		return true
	}
	return false
}
