// Package snippet exports per-segment audio snippets cut from the normalized
// session WAV with ffmpeg. A snippet that fails to cut is logged and skipped;
// the stage only fails when ffmpeg itself cannot run at all.
package snippet

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// Exporter cuts per-segment WAV snippets with ffmpeg.
type Exporter struct {
	ffmpegPath string
	icOnly     bool
	logger     *zap.Logger
}

// NewExporter creates a new Exporter instance
func NewExporter(ffmpegPath string, icOnly bool) *Exporter {
	return NewExporterWithLogger(ffmpegPath, icOnly, nil)
}

// NewExporterWithLogger creates a new Exporter instance with custom logger
func NewExporterWithLogger(ffmpegPath string, icOnly bool, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Exporter{ffmpegPath: ffmpegPath, icOnly: icOnly, logger: logger}
}

// Export writes one snippet per segment into dir and returns the written
// paths indexed by segment. Per-snippet failures are skipped.
func (e *Exporter) Export(ctx context.Context, wavPath string, segments []session.TranscriptSegment, classifications []session.ClassificationResult, dir string) (map[int]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snippet dir: %w", err)
	}

	written := make(map[int]string)
	failures := 0
	for i, seg := range segments {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		if e.icOnly && i < len(classifications) &&
			classifications[i].Classification == session.OutOfCharacter {
			continue
		}

		out := filepath.Join(dir, fmt.Sprintf("segment_%04d.wav", i))
		if err := e.cut(ctx, wavPath, seg, out); err != nil {
			failures++
			e.logger.Warn("snippet export failed for segment, skipping",
				zap.Int("segment_index", i),
				zap.Error(err))
			continue
		}
		written[i] = out
	}

	// Nothing written and everything attempted failed: ffmpeg is likely
	// unusable, which is worth failing the stage over.
	if len(written) == 0 && failures > 0 {
		return nil, fmt.Errorf("all %d snippet exports failed, ffmpeg unusable?", failures)
	}

	e.logger.Info("snippet export completed",
		zap.Int("snippets", len(written)),
		zap.Int("failures", failures))
	return written, nil
}

func (e *Exporter) cut(ctx context.Context, wavPath string, seg session.TranscriptSegment, outPath string) error {
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", seg.StartTime),
		"-t", fmt.Sprintf("%.3f", seg.EndTime-seg.StartTime),
		"-i", wavPath,
		"-c", "copy",
		outPath,
	}
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg cut failed: %w", err)
	}
	return nil
}
