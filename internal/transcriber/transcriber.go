// Package transcriber adapts a speech-to-text engine to the pipeline. The
// engine itself is a black box behind the Engine interface; this package owns
// chunk iteration, timestamp shifting, timeouts and bounded retries.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// Engine is the narrow contract a speech-to-text backend must satisfy.
// Returned segment timestamps are relative to the start of the given chunk
// file; the adapter shifts them into session time.
type Engine interface {
	Transcribe(ctx context.Context, chunkPath string) ([]session.TranscriptSegment, error)
}

// ErrEngineTimeout indicates a transcription call exceeded its deadline.
var ErrEngineTimeout = errors.New("transcription engine timed out")

// AdapterOptions bounds the adapter's patience with the engine.
type AdapterOptions struct {
	Timeout    time.Duration // per-chunk call deadline
	MaxRetries int           // transient-failure retries per chunk
	Backoff    time.Duration // base backoff, doubled per attempt
}

// DefaultAdapterOptions returns the adapter defaults.
func DefaultAdapterOptions() AdapterOptions {
	return AdapterOptions{
		Timeout:    10 * time.Minute,
		MaxRetries: 3,
		Backoff:    2 * time.Second,
	}
}

// Adapter processes audio chunks one at a time through the engine.
type Adapter struct {
	engine Engine
	opts   AdapterOptions
	logger *zap.Logger
}

// NewAdapter creates a new Adapter instance
func NewAdapter(engine Engine, opts AdapterOptions) *Adapter {
	return NewAdapterWithLogger(engine, opts, nil)
}

// NewAdapterWithLogger creates a new Adapter instance with custom logger
func NewAdapterWithLogger(engine Engine, opts AdapterOptions, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultAdapterOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = d.MaxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = d.Backoff
	}
	return &Adapter{engine: engine, opts: opts, logger: logger}
}

// TranscribeChunks transcribes every chunk in order and returns one segment
// list per chunk, with timestamps shifted to session time and ChunkIndex
// stamped. A chunk that still fails after the retry budget escalates; the
// stage is fatal without its transcript.
func (a *Adapter) TranscribeChunks(ctx context.Context, chunks []session.AudioChunk) ([][]session.TranscriptSegment, error) {
	if a.engine == nil {
		return nil, fmt.Errorf("transcription engine not configured")
	}

	out := make([][]session.TranscriptSegment, len(chunks))
	for i, chunk := range chunks {
		segments, err := a.transcribeOne(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("transcribe chunk %d: %w", chunk.Index, err)
		}
		out[i] = segments

		a.logger.Debug("chunk transcribed",
			zap.Int("chunk_index", chunk.Index),
			zap.Int("segments", len(segments)))
	}
	return out, nil
}

// transcribeOne runs a single engine call with timeout and bounded retries.
func (a *Adapter) transcribeOne(ctx context.Context, chunk session.AudioChunk) ([]session.TranscriptSegment, error) {
	var lastErr error
	backoff := a.opts.Backoff

	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			a.logger.Warn("retrying chunk transcription",
				zap.Int("chunk_index", chunk.Index),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		segments, err := a.engine.Transcribe(callCtx, chunk.Path)
		cancel()

		if err == nil {
			return a.normalize(chunk, segments), nil
		}

		// A hung engine surfaces as a deadline, not an indefinite block.
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrEngineTimeout, a.opts.Timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", a.opts.MaxRetries, lastErr)
}

// normalize shifts chunk-relative timestamps into session time, stamps the
// chunk index and drops empty segments.
func (a *Adapter) normalize(chunk session.AudioChunk, segments []session.TranscriptSegment) []session.TranscriptSegment {
	out := make([]session.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			a.logger.Debug("dropping empty transcript segment",
				zap.Int("chunk_index", chunk.Index),
				zap.Float64("start", seg.StartTime))
			continue
		}
		seg.StartTime += chunk.StartTime
		seg.EndTime += chunk.StartTime
		seg.ChunkIndex = chunk.Index
		out = append(out, seg)
	}
	return out
}
