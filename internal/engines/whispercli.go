// Package engines provides the default engine implementations wired by the
// CLI: a whisper.cpp command-line transcription engine and an
// OpenAI-compatible chat backend for classification. Both satisfy the
// pipeline's narrow engine contracts and can be replaced by any other
// implementation.
package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
	"sessionscribe/internal/transcriber"
)

// WhisperCLIEngine runs the whisper.cpp command-line binary against one chunk
// file and parses its JSON output. Implements transcriber.Engine.
type WhisperCLIEngine struct {
	binaryPath string
	modelPath  string
	logger     *zap.Logger
}

// NewWhisperCLIEngine creates a new WhisperCLIEngine instance
func NewWhisperCLIEngine(binaryPath, modelPath string, logger *zap.Logger) *WhisperCLIEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if binaryPath == "" {
		binaryPath = "whisper-cli"
	}
	return &WhisperCLIEngine{binaryPath: binaryPath, modelPath: modelPath, logger: logger}
}

// whisperJSON mirrors the whisper.cpp -oj output layout.
type whisperJSON struct {
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}

// Transcribe implements transcriber.Engine. Timestamps in the returned
// segments are chunk-relative, as the adapter expects.
func (e *WhisperCLIEngine) Transcribe(ctx context.Context, chunkPath string) ([]session.TranscriptSegment, error) {
	outBase := filepath.Join(os.TempDir(), fmt.Sprintf("scribe_whisper_%s", filepath.Base(chunkPath)))
	defer os.Remove(outBase + ".json")

	args := []string{
		"-m", e.modelPath,
		"-f", chunkPath,
		"-oj",
		"-of", outBase,
		"--no-prints",
	}
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper-cli failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	var parsed whisperJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	segments := make([]session.TranscriptSegment, 0, len(parsed.Transcription))
	for _, t := range parsed.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segments = append(segments, session.TranscriptSegment{
			Text:      text,
			StartTime: float64(t.Offsets.From) / 1000.0,
			EndTime:   float64(t.Offsets.To) / 1000.0,
		})
	}

	e.logger.Debug("whisper-cli transcription completed",
		zap.String("chunk", chunkPath),
		zap.Int("segments", len(segments)))
	return segments, nil
}

var _ transcriber.Engine = (*WhisperCLIEngine)(nil)
