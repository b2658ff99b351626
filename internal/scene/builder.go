// Package scene groups the classified, speaker-attributed segment sequence
// into contiguous narrative scenes based on time gaps and IC/OOC transitions.
package scene

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// SummaryStrategy selects how scene summaries are produced.
type SummaryStrategy string

const (
	SummaryNone     SummaryStrategy = "none"
	SummaryTemplate SummaryStrategy = "template"
	SummaryLLM      SummaryStrategy = "llm"
)

// Summarizer is the external collaborator used by the SummaryLLM strategy.
type Summarizer interface {
	Summarize(ctx context.Context, sceneText string) (string, error)
}

// Options controls scene boundaries and summarization.
type Options struct {
	GapThreshold          float64 // seconds of silence that force a new scene
	SplitOnClassification bool    // start a new scene when IC/OOC flips
	Strategy              SummaryStrategy
}

// DefaultOptions returns the scene builder defaults.
func DefaultOptions() Options {
	return Options{
		GapThreshold:          75,
		SplitOnClassification: true,
		Strategy:              SummaryTemplate,
	}
}

// Builder assembles SceneBundles from the final segment sequence.
type Builder struct {
	opts       Options
	summarizer Summarizer
	logger     *zap.Logger
}

// NewBuilder creates a new Builder instance
func NewBuilder(opts Options, summarizer Summarizer) *Builder {
	return NewBuilderWithLogger(opts, summarizer, nil)
}

// NewBuilderWithLogger creates a new Builder instance with custom logger
func NewBuilderWithLogger(opts Options, summarizer Summarizer, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GapThreshold <= 0 {
		opts.GapThreshold = DefaultOptions().GapThreshold
	}
	if opts.Strategy == "" {
		opts.Strategy = SummaryTemplate
	}
	return &Builder{opts: opts, summarizer: summarizer, logger: logger}
}

// Build walks the time-ordered segment sequence and groups it into scenes.
// classifications must be indexed like segments. Every segment index lands in
// exactly one scene.
func (b *Builder) Build(ctx context.Context, segments []session.TranscriptSegment, speakers []session.SpeakerSegment, classifications []session.ClassificationResult) []session.SceneBundle {
	if len(segments) == 0 {
		return nil
	}

	var scenes []session.SceneBundle
	current := []int{0}
	lastPolarity := polarity(classificationAt(classifications, 0))

	for i := 1; i < len(segments); i++ {
		gap := segments[i].StartTime - segments[i-1].EndTime
		pol := polarity(classificationAt(classifications, i))

		split := gap > b.opts.GapThreshold
		if !split && b.opts.SplitOnClassification {
			// Mixed segments never flip polarity; only a hard IC<->OOC
			// transition starts a new scene.
			if pol != 0 && lastPolarity != 0 && pol != lastPolarity {
				split = true
			}
		}

		if split {
			scenes = append(scenes, b.finishScene(ctx, len(scenes), current, segments, speakers, classifications))
			current = current[:0:0]
		}
		current = append(current, i)
		if pol != 0 {
			lastPolarity = pol
		}
	}
	scenes = append(scenes, b.finishScene(ctx, len(scenes), current, segments, speakers, classifications))

	b.logger.Info("scene assembly completed",
		zap.Int("scenes", len(scenes)),
		zap.Int("segments", len(segments)))
	return scenes
}

// polarity collapses a classification to +1 (IC), -1 (OOC) or 0 (mixed).
func polarity(c session.Classification) int {
	switch c {
	case session.InCharacter:
		return 1
	case session.OutOfCharacter:
		return -1
	default:
		return 0
	}
}

func classificationAt(classifications []session.ClassificationResult, i int) session.Classification {
	if i < len(classifications) {
		return classifications[i].Classification
	}
	return session.InCharacter
}

// finishScene aggregates one scene's indices into a SceneBundle.
func (b *Builder) finishScene(ctx context.Context, sceneID int, indices []int, segments []session.TranscriptSegment, speakers []session.SpeakerSegment, classifications []session.ClassificationResult) session.SceneBundle {
	start := segments[indices[0]].StartTime
	end := segments[indices[len(indices)-1]].EndTime

	bundle := session.SceneBundle{
		SceneID:                sceneID,
		SegmentIndices:         append([]int(nil), indices...),
		StartTime:              start,
		EndTime:                end,
		Speakers:               speakersInRange(speakers, start, end),
		DominantClassification: dominantClassification(indices, classifications),
	}
	bundle.Summary = b.summarize(ctx, bundle, segments)
	return bundle
}

// speakersInRange returns the sorted set of speaker labels whose spans
// overlap [start, end).
func speakersInRange(speakers []session.SpeakerSegment, start, end float64) []string {
	set := make(map[string]struct{})
	for _, sp := range speakers {
		if sp.StartTime < end && sp.EndTime > start {
			set[sp.SpeakerID] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// dominantClassification returns the majority label across the scene's
// segments, breaking ties toward InCharacter.
func dominantClassification(indices []int, classifications []session.ClassificationResult) session.Classification {
	counts := make(map[session.Classification]int)
	for _, i := range indices {
		counts[classificationAt(classifications, i)]++
	}

	best := session.InCharacter
	bestCount := counts[session.InCharacter]
	for _, c := range []session.Classification{session.OutOfCharacter, session.Mixed} {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}

// summarize produces the scene summary per the configured strategy. A summary
// failure never drops the scene; the bundle keeps a placeholder instead.
func (b *Builder) summarize(ctx context.Context, bundle session.SceneBundle, segments []session.TranscriptSegment) string {
	switch b.opts.Strategy {
	case SummaryNone:
		return ""
	case SummaryLLM:
		if b.summarizer == nil {
			b.logger.Warn("llm summary strategy selected but no summarizer configured, using template")
			return templateSummary(bundle)
		}
		var text string
		for _, i := range bundle.SegmentIndices {
			text += segments[i].Text + "\n"
		}
		summary, err := b.summarizer.Summarize(ctx, text)
		if err != nil {
			b.logger.Warn("scene summary generation failed, using placeholder",
				zap.Int("scene_id", bundle.SceneID),
				zap.Error(err))
			return templateSummary(bundle)
		}
		return summary
	default:
		return templateSummary(bundle)
	}
}

// templateSummary renders a deterministic one-line summary.
func templateSummary(bundle session.SceneBundle) string {
	kind := "in-character scene"
	switch bundle.DominantClassification {
	case session.OutOfCharacter:
		kind = "table talk"
	case session.Mixed:
		kind = "mixed scene"
	}
	return fmt.Sprintf("Scene %d: %s with %d speakers, %d segments (%.0fs-%.0fs)",
		bundle.SceneID+1, kind, len(bundle.Speakers), len(bundle.SegmentIndices),
		bundle.StartTime, bundle.EndTime)
}
