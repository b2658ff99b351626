// Package logger builds the zap loggers used throughout the pipeline. The CLI
// picks a production or development logger from configuration; library code
// that is handed no logger falls back to zap.NewNop via its constructor.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger returns a production logger, degrading to a no-op logger when the
// build fails. Callers that want to surface the failure use
// NewProductionLogger or NewDevelopmentLogger directly.
func NewLogger() *zap.Logger {
	logger, err := NewProductionLogger()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewProductionLogger builds a JSON logger at info level.
func NewProductionLogger() (*zap.Logger, error) {
	logger, err := zap.NewProductionConfig().Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build production logger: %w", err)
	}
	return logger, nil
}

// NewDevelopmentLogger builds a console logger at debug level, chosen by the
// CLI when debug mode is enabled.
func NewDevelopmentLogger() (*zap.Logger, error) {
	logger, err := zap.NewDevelopmentConfig().Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build development logger: %w", err)
	}
	return logger, nil
}
