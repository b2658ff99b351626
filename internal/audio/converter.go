// Package audio handles audio normalization and voice-activity-based
// chunking. Conversion shells out to ffmpeg; chunking operates on the
// normalized 16 kHz mono PCM directly.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ErrInputUnreadable indicates the source recording is missing or unreadable.
// This is stage-fatal: nothing downstream can run without audio.
var ErrInputUnreadable = errors.New("input audio unreadable")

// Converter manages ffmpeg invocations for audio format conversion
type Converter struct {
	ffmpegPath string
	sampleRate int
	logger     *zap.Logger
}

// NewConverter creates a new Converter instance
func NewConverter(ffmpegPath string, sampleRate int) *Converter {
	return NewConverterWithLogger(ffmpegPath, sampleRate, nil)
}

// NewConverterWithLogger creates a new Converter instance with custom logger
func NewConverterWithLogger(ffmpegPath string, sampleRate int, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Converter{
		ffmpegPath: ffmpegPath,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Convert transcodes the input recording to 16-bit mono PCM WAV at the
// configured sample rate, writing the result to outputPath.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInputUnreadable, inputPath, err)
	}

	// Input that is already 16-bit mono PCM at the target rate needs no
	// transcode, just a copy into the work dir.
	if _, rate, err := ReadWAV(inputPath); err == nil && rate == c.sampleRate {
		c.logger.Info("input already normalized, copying",
			zap.String("input", inputPath),
			zap.String("output", outputPath))
		return copyFile(inputPath, outputPath)
	}

	c.logger.Info("starting ffmpeg audio conversion",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("sample_rate", c.sampleRate))

	args := []string{
		"-y",
		"-i", inputPath,
		"-ar", fmt.Sprintf("%d", c.sampleRate), // Whisper-style engines expect 16kHz
		"-ac", "1", // Mono channel
		"-c:a", "pcm_s16le", // 16-bit little-endian PCM
		outputPath,
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg conversion failed: %w: %s", err, tailLines(stderr.String(), 5))
	}

	c.logger.Info("audio conversion completed", zap.String("output", outputPath))
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// tailLines returns the last n non-empty lines of s, for compact error context.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	nonEmpty := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(l))
		}
	}
	if len(nonEmpty) > n {
		nonEmpty = nonEmpty[len(nonEmpty)-n:]
	}
	return strings.Join(nonEmpty, " | ")
}
