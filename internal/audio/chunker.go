package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// ChunkerOptions controls how the session audio is split. Overlap is the
// window shared by adjacent chunks so the transcription engine keeps context
// across boundaries; it is an explicit, documented option rather than an
// implicit constant.
type ChunkerOptions struct {
	MaxChunkDuration float64 // seconds, upper bound per chunk
	MinChunkDuration float64 // seconds, lower bound per chunk
	Overlap          float64 // seconds shared by adjacent chunks
	VADFrameMS       int     // analysis frame size
	EnergyThreshold  float64 // RMS below this counts as silence
	MinSilenceMS     int     // shortest silence run usable as a split point
}

// DefaultChunkerOptions returns the chunker defaults used when a caller
// passes a zero-value option.
func DefaultChunkerOptions() ChunkerOptions {
	return ChunkerOptions{
		MaxChunkDuration: 300,
		MinChunkDuration: 10,
		Overlap:          5,
		VADFrameMS:       30,
		EnergyThreshold:  0.012,
		MinSilenceMS:     500,
	}
}

func (o ChunkerOptions) withDefaults() ChunkerOptions {
	d := DefaultChunkerOptions()
	if o.MaxChunkDuration <= 0 {
		o.MaxChunkDuration = d.MaxChunkDuration
	}
	if o.MinChunkDuration <= 0 {
		o.MinChunkDuration = d.MinChunkDuration
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	} else if o.Overlap == 0 {
		o.Overlap = d.Overlap
	}
	if o.VADFrameMS <= 0 {
		o.VADFrameMS = d.VADFrameMS
	}
	if o.EnergyThreshold <= 0 {
		o.EnergyThreshold = d.EnergyThreshold
	}
	if o.MinSilenceMS <= 0 {
		o.MinSilenceMS = d.MinSilenceMS
	}
	return o
}

// Chunker splits a normalized session recording into bounded, overlapping
// chunks, preferring split points inside detected silence.
type Chunker struct {
	opts   ChunkerOptions
	logger *zap.Logger
}

// NewChunker creates a new Chunker instance
func NewChunker(opts ChunkerOptions) *Chunker {
	return NewChunkerWithLogger(opts, nil)
}

// NewChunkerWithLogger creates a new Chunker instance with custom logger
func NewChunkerWithLogger(opts ChunkerOptions, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{opts: opts.withDefaults(), logger: logger}
}

// Chunk splits the WAV file at wavPath into chunk files under chunkDir and
// returns the ordered chunk list. If voice activity detection finds no speech
// at all it falls back to fixed-duration windows rather than failing.
func (c *Chunker) Chunk(ctx context.Context, wavPath, chunkDir string) ([]session.AudioChunk, error) {
	samples, sampleRate, err := ReadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read session audio: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("session audio %s contains no samples", wavPath)
	}
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	totalDuration := float64(len(samples)) / float64(sampleRate)

	splitPoints, speechFound := c.silenceSplitPoints(samples, sampleRate)
	if !speechFound {
		c.logger.Warn("no speech detected by VAD, falling back to fixed-duration windows",
			zap.String("audio", wavPath),
			zap.Float64("duration_sec", totalDuration))
		splitPoints = nil
	}

	boundaries := c.planBoundaries(totalDuration, splitPoints)

	chunks := make([]session.AudioChunk, 0, len(boundaries))
	for i, b := range boundaries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		startSample := int(b.start * float64(sampleRate))
		endSample := int(b.end * float64(sampleRate))
		if endSample > len(samples) {
			endSample = len(samples)
		}

		path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%04d.wav", i))
		if err := WriteWAV(path, samples[startSample:endSample], sampleRate); err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", i, err)
		}

		chunk := session.AudioChunk{
			Index:     i,
			StartTime: b.start,
			EndTime:   b.end,
			Path:      path,
		}
		if err := chunk.Validate(); err != nil {
			return nil, fmt.Errorf("invalid chunk %d: %w", i, err)
		}
		chunks = append(chunks, chunk)
	}

	c.logger.Info("audio chunking completed",
		zap.Int("chunks", len(chunks)),
		zap.Float64("total_duration_sec", totalDuration),
		zap.Bool("vad_speech_found", speechFound))
	return chunks, nil
}

type boundary struct {
	start, end float64
}

// silenceSplitPoints runs frame-level RMS energy VAD and returns the midpoints
// of silence runs long enough to split at, plus whether any speech was seen.
func (c *Chunker) silenceSplitPoints(samples []float64, sampleRate int) ([]float64, bool) {
	frameLen := sampleRate * c.opts.VADFrameMS / 1000
	if frameLen <= 0 {
		frameLen = 1
	}
	minSilenceFrames := c.opts.MinSilenceMS / c.opts.VADFrameMS
	if minSilenceFrames < 1 {
		minSilenceFrames = 1
	}

	var (
		points       []float64
		speechFound  bool
		silenceStart = -1
		frameCount   = len(samples) / frameLen
	)
	for f := 0; f < frameCount; f++ {
		frame := samples[f*frameLen : (f+1)*frameLen]
		if rms(frame) < c.opts.EnergyThreshold {
			if silenceStart < 0 {
				silenceStart = f
			}
			continue
		}
		speechFound = true
		if silenceStart >= 0 && f-silenceStart >= minSilenceFrames {
			mid := float64(silenceStart+f) / 2.0 * float64(frameLen) / float64(sampleRate)
			points = append(points, mid)
		}
		silenceStart = -1
	}
	return points, speechFound
}

// planBoundaries walks the timeline choosing chunk boundaries: the latest
// silence split inside (start+min, start+max], else a hard cut at start+max.
// Each chunk after the first starts Overlap seconds before the previous cut.
func (c *Chunker) planBoundaries(totalDuration float64, splitPoints []float64) []boundary {
	var out []boundary
	start := 0.0
	for start < totalDuration {
		end := start + c.opts.MaxChunkDuration
		if end >= totalDuration {
			out = append(out, boundary{start: start, end: totalDuration})
			break
		}

		cut := -1.0
		for _, p := range splitPoints {
			if p > start+c.opts.MinChunkDuration && p <= end {
				cut = p
			}
		}
		if cut < 0 {
			cut = end
		}
		out = append(out, boundary{start: start, end: cut})

		next := cut - c.opts.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	// Fold a pathologically small trailing chunk into its predecessor.
	if n := len(out); n > 1 && out[n-1].end-out[n-1].start < c.opts.MinChunkDuration {
		out[n-2].end = out[n-1].end
		out = out[:n-1]
	}
	return out
}

func rms(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)))
}
