// Package classifier labels transcript segments as in-character,
// out-of-character or mixed using an LLM backend. Segments are classified in
// batches dispatched through a bounded worker pool; a failed batch degrades
// to per-segment calls, a failed segment degrades to a safe default. The
// classifier never fails the pipeline stage.
package classifier

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// failedReasoning is recorded when both backends gave up on a segment.
const failedReasoning = "Classification failed"

// Options tunes classification throughput and resilience.
type Options struct {
	BatchSize  int           // segments per batched prompt
	Workers    int           // bounded pool for concurrent batch dispatch
	MaxRetries int           // retries per backend per call
	Timeout    time.Duration // deadline per model call
}

// DefaultOptions returns the classifier defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:  10,
		Workers:    4,
		MaxRetries: 2,
		Timeout:    2 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// Classifier labels transcript segments through a primary and optional
// fallback LLM backend.
type Classifier struct {
	primary  Backend
	fallback Backend
	opts     Options
	logger   *zap.Logger
}

// NewClassifier creates a new Classifier instance
func NewClassifier(primary, fallback Backend, opts Options) *Classifier {
	return NewClassifierWithLogger(primary, fallback, opts, nil)
}

// NewClassifierWithLogger creates a new Classifier instance with custom logger
func NewClassifierWithLogger(primary, fallback Backend, opts Options, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		primary:  primary,
		fallback: fallback,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// batchJob is one contiguous run of segment indices classified in a single
// prompt.
type batchJob struct {
	start int // index of first segment in the batch
	count int
}

// Classify returns exactly one result per input segment, in input order.
// It never returns an error: every failure path degrades to a default
// result so a multi-hour run is not lost to one bad segment.
func (c *Classifier) Classify(ctx context.Context, segments []session.TranscriptSegment, characterNames, playerNames []string) []session.ClassificationResult {
	results := make([]session.ClassificationResult, len(segments))
	if len(segments) == 0 {
		return results
	}

	jobs := make(chan batchJob)
	var wg sync.WaitGroup

	workers := c.opts.Workers
	if workers > (len(segments)+c.opts.BatchSize-1)/c.opts.BatchSize {
		workers = (len(segments) + c.opts.BatchSize - 1) / c.opts.BatchSize
	}

	// Each batch writes a disjoint index range of results, so the pool needs
	// no result ordering: assembly back into segment order is positional.
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				c.classifyBatch(ctx, segments, characterNames, playerNames, job, results)
			}
		}()
	}

	for start := 0; start < len(segments); start += c.opts.BatchSize {
		count := c.opts.BatchSize
		if start+count > len(segments) {
			count = len(segments) - start
		}
		jobs <- batchJob{start: start, count: count}
	}
	close(jobs)
	wg.Wait()

	for i := range results {
		results[i].SegmentIndex = i
	}
	return results
}

// classifyBatch classifies one batch with a single prompt. A failed call or
// an incomplete batch response falls back to per-segment classification for
// just this batch.
func (c *Classifier) classifyBatch(ctx context.Context, segments []session.TranscriptSegment, characterNames, playerNames []string, job batchJob, results []session.ClassificationResult) {
	plan := newCallPlan(c.primary, c.fallback, c.opts.MaxRetries, c.opts.Timeout, c.logger)

	texts := make([]string, job.count)
	for i := 0; i < job.count; i++ {
		texts[i] = segments[job.start+i].Text
	}

	response, err := plan.run(ctx, buildBatchPrompt(texts, characterNames, playerNames))
	if err != nil {
		c.logger.Warn("batch classification call failed, falling back to per-segment",
			zap.Int("batch_start", job.start),
			zap.Int("batch_size", job.count),
			zap.Error(err))
		c.classifySegmentwise(ctx, segments, characterNames, playerNames, job, results)
		return
	}

	parsed := parseBatchResponse(response)
	missing := 0
	for i := 0; i < job.count; i++ {
		if r, ok := parsed[i+1]; ok {
			results[job.start+i] = r
		} else {
			missing++
		}
	}
	if missing == 0 {
		return
	}

	c.logger.Warn("batch response incomplete, classifying missing segments individually",
		zap.Int("batch_start", job.start),
		zap.Int("missing", missing))
	for i := 0; i < job.count; i++ {
		if _, ok := parsed[i+1]; !ok {
			results[job.start+i] = c.classifyOne(ctx, segments, characterNames, playerNames, job.start+i)
		}
	}
}

// classifySegmentwise classifies every segment of the batch with its own call.
func (c *Classifier) classifySegmentwise(ctx context.Context, segments []session.TranscriptSegment, characterNames, playerNames []string, job batchJob, results []session.ClassificationResult) {
	for i := 0; i < job.count; i++ {
		results[job.start+i] = c.classifyOne(ctx, segments, characterNames, playerNames, job.start+i)
	}
}

// classifyOne classifies a single segment with its neighbors as context. If
// both backends fail the segment gets the documented default so the pipeline
// can continue.
func (c *Classifier) classifyOne(ctx context.Context, segments []session.TranscriptSegment, characterNames, playerNames []string, index int) session.ClassificationResult {
	pc := promptContext{Current: segments[index].Text}
	if index > 0 {
		pc.Previous = segments[index-1].Text
	}
	if index+1 < len(segments) {
		pc.Next = segments[index+1].Text
	}

	plan := newCallPlan(c.primary, c.fallback, c.opts.MaxRetries, c.opts.Timeout, c.logger)
	response, err := plan.run(ctx, buildSinglePrompt(pc, characterNames, playerNames))
	if err != nil {
		c.logger.Warn("segment classification failed on all backends, using default",
			zap.Int("segment_index", index),
			zap.Error(err))
		return session.ClassificationResult{
			Classification: session.InCharacter,
			Confidence:     0.5,
			Reasoning:      failedReasoning,
		}
	}
	return parseResponse(response)
}
