package pipeline

import (
	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// ProgressReporter receives stage-level status updates. The orchestrator
// calls it at stage start and end and never depends on its behavior; a UI or
// job tracker plugs in here.
type ProgressReporter interface {
	Report(sessionID string, stage session.Stage, status session.StageStatus, message string)
}

// NopReporter discards all progress updates.
type NopReporter struct{}

// Report implements ProgressReporter.
func (NopReporter) Report(string, session.Stage, session.StageStatus, string) {}

// LogReporter writes progress updates to a zap logger.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a new LogReporter instance
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report implements ProgressReporter.
func (r *LogReporter) Report(sessionID string, stage session.Stage, status session.StageStatus, message string) {
	r.logger.Info("pipeline progress",
		zap.String("session_id", sessionID),
		zap.Int("stage_number", int(stage)+1),
		zap.String("stage", stage.String()),
		zap.String("status", string(status)),
		zap.String("message", message))
}
