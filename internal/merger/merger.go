// Package merger reconciles per-chunk transcripts into one session-level
// segment sequence. Adjacent chunks overlap, so the same utterance can appear
// in two chunk transcripts; the merger keeps exactly one copy, preferring the
// version transcribed further from its chunk's edges.
package merger

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// duplicateOverlapRatio is the fraction of the shorter segment's duration
// that must overlap before two cross-chunk segments are compared as
// potential duplicates.
const duplicateOverlapRatio = 0.5

// tokenSimilarityThreshold is the token-overlap score above which two
// near-identical texts count as the same utterance.
const tokenSimilarityThreshold = 0.7

// Merger combines per-chunk transcripts into a single ordered sequence.
type Merger struct {
	logger *zap.Logger
}

// NewMerger creates a new Merger instance
func NewMerger() *Merger {
	return NewMergerWithLogger(nil)
}

// NewMergerWithLogger creates a new Merger instance with custom logger
func NewMergerWithLogger(logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{logger: logger}
}

// Merge reconciles the per-chunk transcripts into one time-ordered sequence.
// chunks supplies the chunk boundaries used for the centrality heuristic; if
// nil, each chunk's span is inferred from its own segments.
func (m *Merger) Merge(perChunk [][]session.TranscriptSegment, chunks []session.AudioChunk) []session.TranscriptSegment {
	spans := chunkSpans(perChunk, chunks)

	var all []session.TranscriptSegment
	for _, segs := range perChunk {
		all = append(all, segs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartTime != all[j].StartTime {
			return all[i].StartTime < all[j].StartTime
		}
		return all[i].ChunkIndex < all[j].ChunkIndex
	})

	var (
		merged  []session.TranscriptSegment
		dropped int
	)
	for _, cand := range all {
		replaced := false
		duplicate := false

		// Only segments still overlapping the candidate in time can be
		// duplicates; scan back from the tail until times separate.
		for i := len(merged) - 1; i >= 0; i-- {
			prev := merged[i]
			if prev.EndTime <= cand.StartTime {
				break
			}
			if prev.ChunkIndex == cand.ChunkIndex {
				continue
			}
			if !isDuplicate(prev, cand) {
				continue
			}

			duplicate = true
			if preferSecond(prev, cand, spans) {
				merged[i] = cand
				replaced = true
			}
			dropped++
			break
		}

		if !duplicate {
			merged = append(merged, cand)
		} else if replaced {
			// Replacement may perturb ordering when times differ slightly.
			sort.SliceStable(merged, func(i, j int) bool {
				return merged[i].StartTime < merged[j].StartTime
			})
		}
	}

	if dropped > 0 {
		m.logger.Info("resolved duplicate segments at chunk boundaries",
			zap.Int("duplicates_dropped", dropped),
			zap.Int("merged_segments", len(merged)))
	}
	return merged
}

type span struct {
	start, end float64
}

// chunkSpans maps chunk index to its time extent.
func chunkSpans(perChunk [][]session.TranscriptSegment, chunks []session.AudioChunk) map[int]span {
	spans := make(map[int]span)
	for _, c := range chunks {
		spans[c.Index] = span{start: c.StartTime, end: c.EndTime}
	}
	if len(spans) > 0 {
		return spans
	}
	for _, segs := range perChunk {
		for _, seg := range segs {
			s, ok := spans[seg.ChunkIndex]
			if !ok {
				spans[seg.ChunkIndex] = span{start: seg.StartTime, end: seg.EndTime}
				continue
			}
			if seg.StartTime < s.start {
				s.start = seg.StartTime
			}
			if seg.EndTime > s.end {
				s.end = seg.EndTime
			}
			spans[seg.ChunkIndex] = s
		}
	}
	return spans
}

// isDuplicate reports whether two cross-chunk segments describe the same
// utterance: substantial time overlap plus near-identical text.
func isDuplicate(a, b session.TranscriptSegment) bool {
	overlap := minFloat(a.EndTime, b.EndTime) - maxFloat(a.StartTime, b.StartTime)
	if overlap <= 0 {
		return false
	}
	shorter := minFloat(a.EndTime-a.StartTime, b.EndTime-b.StartTime)
	if shorter <= 0 || overlap/shorter < duplicateOverlapRatio {
		return false
	}
	return similarText(a.Text, b.Text)
}

// preferSecond decides which duplicate survives: the one whose midpoint lies
// more centrally within its chunk, away from the overlap-distorted edges.
// Identical centrality prefers the later chunk, which transcribed the span
// with more preceding context.
func preferSecond(first, second session.TranscriptSegment, spans map[int]span) bool {
	c1 := centrality(first, spans)
	c2 := centrality(second, spans)
	if c2 > c1 {
		return true
	}
	if c2 < c1 {
		return false
	}
	return second.ChunkIndex > first.ChunkIndex
}

// centrality is the distance from the segment midpoint to the nearest edge of
// its chunk. Larger means further from a boundary.
func centrality(seg session.TranscriptSegment, spans map[int]span) float64 {
	s, ok := spans[seg.ChunkIndex]
	if !ok || s.end <= s.start {
		return 0
	}
	mid := (seg.StartTime + seg.EndTime) / 2
	return minFloat(mid-s.start, s.end-mid)
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9 ]+`)

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonWordRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// similarText reports whether two texts are the same utterance modulo
// transcription noise: equal after normalization, containment, or high token
// overlap.
func similarText(a, b string) bool {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return na == nb
	}
	if na == nb {
		return true
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return tokenOverlap(na, nb) >= tokenSimilarityThreshold
}

// tokenOverlap computes the Jaccard similarity of the two token sets.
func tokenOverlap(a, b string) float64 {
	setA := make(map[string]struct{})
	for _, t := range strings.Fields(a) {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, t := range strings.Fields(b) {
		setB[t] = struct{}{}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	common := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			common++
		}
	}
	union := len(setA) + len(setB) - common
	return float64(common) / float64(union)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
