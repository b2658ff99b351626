// Package diarizer adapts a speaker-diarization engine to the pipeline's
// speaker-segment model. The engine result is only touched through narrow
// capability interfaces; when no engine is available the adapter degrades to
// labeling the whole session as one generic speaker.
package diarizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"sessionscribe/internal/audio"
	"sessionscribe/internal/session"
)

// FallbackSpeakerID is the generic label used when no diarization engine is
// available and every segment is attributed to one speaker.
const FallbackSpeakerID = "SPEAKER_00"

// ErrWantPath is returned by engines that cannot consume an in-memory
// waveform and need a file path instead. The adapter retries with the
// path-only form.
var ErrWantPath = errors.New("diarization engine requires a file path input")

// AudioInput carries session audio in whichever form the engine accepts:
// the in-memory waveform plus sample rate, or just a file path.
type AudioInput struct {
	Samples    []float64
	SampleRate int
	Path       string
}

// Span is one time range of a speaker's audio.
type Span struct {
	Start float64
	End   float64
}

// Triple is one (start, end, label) entry of a diarization annotation.
type Triple struct {
	Start float64
	End   float64
	Label string
}

// Annotation is the narrow view of an engine's diarization result: timed
// triples plus the set of distinct speaker labels.
type Annotation interface {
	Triples() []Triple
	Labels() []string
}

// Engine is the contract a diarization backend must satisfy.
type Engine interface {
	Available() bool
	Diarize(ctx context.Context, input AudioInput) (Annotation, error)
}

// EmbeddingExtractor is an optional engine capability: computing a voice
// embedding for the audio within the given spans. Discovered by type
// assertion on the engine.
type EmbeddingExtractor interface {
	ExtractEmbedding(ctx context.Context, input AudioInput, spans []Span) (session.SpeakerEmbedding, error)
}

// Adapter converts engine output into the internal speaker-segment model and
// extracts per-speaker embeddings best-effort.
type Adapter struct {
	engine  Engine
	timeout time.Duration
	logger  *zap.Logger
}

// NewAdapter creates a new Adapter instance
func NewAdapter(engine Engine, timeout time.Duration) *Adapter {
	return NewAdapterWithLogger(engine, timeout, nil)
}

// NewAdapterWithLogger creates a new Adapter instance with custom logger
func NewAdapterWithLogger(engine Engine, timeout time.Duration, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Adapter{engine: engine, timeout: timeout, logger: logger}
}

// Diarize runs speaker diarization over the session WAV and returns ordered
// speaker segments plus any embeddings that could be extracted. An
// unavailable engine is a documented fallback, not an error.
func (a *Adapter) Diarize(ctx context.Context, wavPath string) ([]session.SpeakerSegment, map[string]session.SpeakerEmbedding, error) {
	if a.engine == nil || !a.engine.Available() {
		a.logger.Warn("diarization engine unavailable, using single-speaker fallback",
			zap.String("speaker_id", FallbackSpeakerID))
		segs, err := a.fallbackSingleSpeaker(wavPath)
		return segs, nil, err
	}

	samples, sampleRate, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read session audio for diarization: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// Prefer the richer in-memory form; engines that only take paths signal
	// that with ErrWantPath.
	input := AudioInput{Samples: samples, SampleRate: sampleRate, Path: wavPath}
	annotation, err := a.engine.Diarize(callCtx, input)
	if errors.Is(err, ErrWantPath) {
		a.logger.Debug("engine rejected waveform input, retrying with path only")
		annotation, err = a.engine.Diarize(callCtx, AudioInput{Path: wavPath})
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("diarization timed out after %s: %w", a.timeout, err)
		}
		return nil, nil, fmt.Errorf("diarization failed: %w", err)
	}

	segments := convertAnnotation(annotation)
	embeddings := a.extractEmbeddings(callCtx, input, annotation)

	a.logger.Info("diarization completed",
		zap.Int("segments", len(segments)),
		zap.Int("speakers", len(annotation.Labels())),
		zap.Int("embeddings", len(embeddings)))
	return segments, embeddings, nil
}

// fallbackSingleSpeaker labels the entire session duration as one speaker.
func (a *Adapter) fallbackSingleSpeaker(wavPath string) ([]session.SpeakerSegment, error) {
	samples, sampleRate, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read session audio for fallback diarization: %w", err)
	}
	duration := float64(len(samples)) / float64(sampleRate)
	if duration <= 0 {
		return nil, fmt.Errorf("session audio %s has zero duration", wavPath)
	}
	return []session.SpeakerSegment{{
		SpeakerID: FallbackSpeakerID,
		StartTime: 0,
		EndTime:   duration,
	}}, nil
}

// convertAnnotation turns engine triples into ordered SpeakerSegments.
func convertAnnotation(annotation Annotation) []session.SpeakerSegment {
	triples := annotation.Triples()
	segments := make([]session.SpeakerSegment, 0, len(triples))
	for _, t := range triples {
		if t.End <= t.Start || t.Label == "" {
			continue
		}
		segments = append(segments, session.SpeakerSegment{
			SpeakerID: t.Label,
			StartTime: t.Start,
			EndTime:   t.End,
		})
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})
	return segments
}

// extractEmbeddings computes one embedding per speaker, best-effort: speakers
// with zero effective duration are skipped, and a per-speaker failure is
// logged and omitted rather than failing diarization.
func (a *Adapter) extractEmbeddings(ctx context.Context, input AudioInput, annotation Annotation) map[string]session.SpeakerEmbedding {
	extractor, ok := a.engine.(EmbeddingExtractor)
	if !ok {
		a.logger.Debug("engine does not support embedding extraction, skipping")
		return nil
	}

	spansByLabel := make(map[string][]Span)
	for _, t := range annotation.Triples() {
		if t.End > t.Start {
			spansByLabel[t.Label] = append(spansByLabel[t.Label], Span{Start: t.Start, End: t.End})
		}
	}

	embeddings := make(map[string]session.SpeakerEmbedding)
	for _, label := range annotation.Labels() {
		spans := spansByLabel[label]
		var total float64
		for _, s := range spans {
			total += s.End - s.Start
		}
		if total <= 0 {
			a.logger.Debug("skipping embedding for speaker with zero duration",
				zap.String("speaker_id", label))
			continue
		}

		embedding, err := extractor.ExtractEmbedding(ctx, input, spans)
		if err != nil {
			a.logger.Warn("embedding extraction failed for speaker, omitting",
				zap.String("speaker_id", label),
				zap.Error(err))
			continue
		}
		if len(embedding) > 0 {
			embeddings[label] = embedding
		}
	}
	if len(embeddings) == 0 {
		return nil
	}
	return embeddings
}
