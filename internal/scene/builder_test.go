package scene

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionscribe/internal/session"
)

func segAt(text string, start, end float64) session.TranscriptSegment {
	return session.TranscriptSegment{Text: text, StartTime: start, EndTime: end}
}

func classified(labels ...session.Classification) []session.ClassificationResult {
	out := make([]session.ClassificationResult, len(labels))
	for i, label := range labels {
		out[i] = session.ClassificationResult{SegmentIndex: i, Classification: label, Confidence: 0.9}
	}
	return out
}

func testBuilderOptions() Options {
	return Options{GapThreshold: 75, SplitOnClassification: true, Strategy: SummaryNone}
}

func TestBuilder_Build(t *testing.T) {
	t.Run("should return nil for no segments", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)

		// Act
		scenes := builder.Build(context.Background(), nil, nil, nil)

		// Assert
		assert.Nil(t, scenes)
	})

	t.Run("should keep a continuous homogeneous session in one scene", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)
		segments := []session.TranscriptSegment{
			segAt("one", 0, 10),
			segAt("two", 12, 20),
			segAt("three", 25, 40),
		}
		classifications := classified(session.InCharacter, session.InCharacter, session.InCharacter)

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classifications)

		// Assert
		require.Len(t, scenes, 1)
		assert.Equal(t, []int{0, 1, 2}, scenes[0].SegmentIndices)
		assert.Equal(t, 0.0, scenes[0].StartTime)
		assert.Equal(t, 40.0, scenes[0].EndTime)
		assert.Equal(t, session.InCharacter, scenes[0].DominantClassification)
	})

	t.Run("should split on a silence gap above the threshold", func(t *testing.T) {
		// Arrange: a 200 second break between two halves
		builder := NewBuilder(testBuilderOptions(), nil)
		segments := []session.TranscriptSegment{
			segAt("before the break", 0, 30),
			segAt("still before", 35, 60),
			segAt("after the break", 260, 290),
		}
		classifications := classified(session.InCharacter, session.InCharacter, session.InCharacter)

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classifications)

		// Assert
		require.Len(t, scenes, 2)
		assert.Equal(t, []int{0, 1}, scenes[0].SegmentIndices)
		assert.Equal(t, []int{2}, scenes[1].SegmentIndices)
		assert.Equal(t, 0, scenes[0].SceneID)
		assert.Equal(t, 1, scenes[1].SceneID)
	})

	t.Run("should not split on a gap below the threshold", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)
		segments := []session.TranscriptSegment{
			segAt("one", 0, 10),
			segAt("two", 80, 90), // 70s gap, threshold is 75
		}
		classifications := classified(session.InCharacter, session.InCharacter)

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classifications)

		// Assert
		assert.Len(t, scenes, 1)
	})

	t.Run("should split when classification polarity flips", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)
		segments := []session.TranscriptSegment{
			segAt("in character one", 0, 10),
			segAt("in character two", 12, 20),
			segAt("table talk", 22, 30),
			segAt("back in character", 32, 40),
		}
		classifications := classified(
			session.InCharacter, session.InCharacter,
			session.OutOfCharacter, session.InCharacter)

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classifications)

		// Assert
		require.Len(t, scenes, 3)
		assert.Equal(t, []int{0, 1}, scenes[0].SegmentIndices)
		assert.Equal(t, []int{2}, scenes[1].SegmentIndices)
		assert.Equal(t, []int{3}, scenes[2].SegmentIndices)
	})

	t.Run("should never let mixed segments flip polarity", func(t *testing.T) {
		// Arrange: IC, MIXED, IC stays one scene
		builder := NewBuilder(testBuilderOptions(), nil)
		segments := []session.TranscriptSegment{
			segAt("in character", 0, 10),
			segAt("half and half", 12, 20),
			segAt("in character again", 22, 30),
		}
		classifications := classified(session.InCharacter, session.Mixed, session.InCharacter)

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classifications)

		// Assert
		assert.Len(t, scenes, 1)
	})

	t.Run("should not split on classification when disabled", func(t *testing.T) {
		// Arrange
		opts := testBuilderOptions()
		opts.SplitOnClassification = false
		builder := NewBuilder(opts, nil)
		segments := []session.TranscriptSegment{
			segAt("in character", 0, 10),
			segAt("table talk", 12, 20),
		}
		classifications := classified(session.InCharacter, session.OutOfCharacter)

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classifications)

		// Assert
		assert.Len(t, scenes, 1)
	})

	t.Run("should place every segment index in exactly one scene", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)
		var segments []session.TranscriptSegment
		var labels []session.Classification
		for i := 0; i < 20; i++ {
			start := float64(i * 30)
			if i == 10 {
				start += 300 // force one gap split
			}
			segments = append(segments, segAt(fmt.Sprintf("segment %d", i), start, start+20))
			label := session.InCharacter
			if i%7 == 0 {
				label = session.OutOfCharacter
			}
			labels = append(labels, label)
		}

		// Act
		scenes := builder.Build(context.Background(), segments, nil, classified(labels...))

		// Assert
		seen := make(map[int]int)
		for _, sc := range scenes {
			for _, idx := range sc.SegmentIndices {
				seen[idx]++
			}
			assert.NoError(t, sc.Validate())
		}
		require.Len(t, seen, len(segments))
		for idx, count := range seen {
			assert.Equal(t, 1, count, "segment %d should appear exactly once", idx)
		}
	})

	t.Run("should attribute overlapping speakers to the scene, sorted", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)
		segments := []session.TranscriptSegment{segAt("hello", 0, 30)}
		speakers := []session.SpeakerSegment{
			{SpeakerID: "SPEAKER_02", StartTime: 10, EndTime: 20},
			{SpeakerID: "SPEAKER_01", StartTime: 0, EndTime: 12},
			{SpeakerID: "SPEAKER_03", StartTime: 50, EndTime: 60}, // outside the scene
		}

		// Act
		scenes := builder.Build(context.Background(), segments, speakers,
			classified(session.InCharacter))

		// Assert
		require.Len(t, scenes, 1)
		assert.Equal(t, []string{"SPEAKER_01", "SPEAKER_02"}, scenes[0].Speakers)
	})
}

func TestDominantClassification(t *testing.T) {
	t.Run("should pick the majority label", func(t *testing.T) {
		// Arrange
		classifications := classified(
			session.OutOfCharacter, session.OutOfCharacter, session.InCharacter)

		// Act
		dominant := dominantClassification([]int{0, 1, 2}, classifications)

		// Assert
		assert.Equal(t, session.OutOfCharacter, dominant)
	})

	t.Run("should break ties toward in-character", func(t *testing.T) {
		// Arrange
		classifications := classified(session.InCharacter, session.OutOfCharacter)

		// Act
		dominant := dominantClassification([]int{0, 1}, classifications)

		// Assert
		assert.Equal(t, session.InCharacter, dominant)
	})
}

// failingSummarizer always errors to exercise the placeholder path.
type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string) (string, error) {
	return "", fmt.Errorf("summary model unavailable")
}

// cannedSummarizer returns a fixed summary.
type cannedSummarizer struct{ text string }

func (s cannedSummarizer) Summarize(context.Context, string) (string, error) {
	return s.text, nil
}

func TestBuilder_Summaries(t *testing.T) {
	t.Run("should leave summaries empty under the none strategy", func(t *testing.T) {
		// Arrange
		builder := NewBuilder(testBuilderOptions(), nil)

		// Act
		scenes := builder.Build(context.Background(),
			[]session.TranscriptSegment{segAt("hello", 0, 10)}, nil,
			classified(session.InCharacter))

		// Assert
		require.Len(t, scenes, 1)
		assert.Empty(t, scenes[0].Summary)
	})

	t.Run("should render a deterministic template summary", func(t *testing.T) {
		// Arrange
		opts := testBuilderOptions()
		opts.Strategy = SummaryTemplate
		builder := NewBuilder(opts, nil)

		// Act
		scenes := builder.Build(context.Background(),
			[]session.TranscriptSegment{segAt("hello", 0, 10)}, nil,
			classified(session.InCharacter))

		// Assert
		require.Len(t, scenes, 1)
		assert.Contains(t, scenes[0].Summary, "Scene 1")
		assert.Contains(t, scenes[0].Summary, "in-character scene")
	})

	t.Run("should use the summarizer under the llm strategy", func(t *testing.T) {
		// Arrange
		opts := testBuilderOptions()
		opts.Strategy = SummaryLLM
		builder := NewBuilder(opts, cannedSummarizer{text: "The party rests at the inn."})

		// Act
		scenes := builder.Build(context.Background(),
			[]session.TranscriptSegment{segAt("hello", 0, 10)}, nil,
			classified(session.InCharacter))

		// Assert
		require.Len(t, scenes, 1)
		assert.Equal(t, "The party rests at the inn.", scenes[0].Summary)
	})

	t.Run("should fall back to the template when the summarizer fails", func(t *testing.T) {
		// Arrange
		opts := testBuilderOptions()
		opts.Strategy = SummaryLLM
		builder := NewBuilder(opts, failingSummarizer{})

		// Act
		scenes := builder.Build(context.Background(),
			[]session.TranscriptSegment{segAt("hello", 0, 10)}, nil,
			classified(session.InCharacter))

		// Assert
		require.Len(t, scenes, 1)
		assert.Contains(t, scenes[0].Summary, "Scene 1")
	})
}
