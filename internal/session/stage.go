package session

import "fmt"

// Stage identifies one step of the session processing pipeline.
// Stages always execute in declaration order and each one checkpoints
// on completion so an interrupted run can resume after it.
type Stage int

const (
	StageAudioConversion Stage = iota
	StageChunking
	StageTranscription
	StageMerge
	StageDiarization
	StageClassification
	StageOutputGeneration
	StageSnippetExport
	StageKnowledgeExtraction
)

// StageCount is the total number of pipeline stages.
const StageCount = 9

var stageNames = [StageCount]string{
	"audio_conversion",
	"chunking",
	"transcription",
	"merge",
	"diarization",
	"classification",
	"output_generation",
	"snippet_export",
	"knowledge_extraction",
}

// String returns the stable name used in checkpoints, logs and progress reports.
func (s Stage) String() string {
	if s < 0 || int(s) >= StageCount {
		return fmt.Sprintf("unknown_stage_%d", int(s))
	}
	return stageNames[s]
}

// Valid reports whether the stage is one of the defined pipeline stages.
func (s Stage) Valid() bool {
	return s >= 0 && int(s) < StageCount
}

// AllStages returns every pipeline stage in execution order.
func AllStages() []Stage {
	stages := make([]Stage, StageCount)
	for i := range stages {
		stages[i] = Stage(i)
	}
	return stages
}

// ParseStage maps a stable stage name back to its Stage value.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage name %q", name)
}

// StageStatus describes the lifecycle of one stage within a run.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)
