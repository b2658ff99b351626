package snippet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionscribe/internal/session"
)

func TestExporter_Export(t *testing.T) {
	t.Run("should fail the stage when every cut fails", func(t *testing.T) {
		// Arrange: a bogus ffmpeg path makes every cut fail
		exporter := NewExporter("/nonexistent/ffmpeg", false)
		segments := []session.TranscriptSegment{
			{Text: "one", StartTime: 0, EndTime: 2},
			{Text: "two", StartTime: 2, EndTime: 4},
		}

		// Act
		_, err := exporter.Export(context.Background(), "session.wav", segments, nil, t.TempDir())

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "snippet exports failed")
	})

	t.Run("should skip out-of-character segments in ic-only mode without failing", func(t *testing.T) {
		// Arrange: everything is OOC, so nothing is attempted at all
		exporter := NewExporter("/nonexistent/ffmpeg", true)
		segments := []session.TranscriptSegment{
			{Text: "table talk", StartTime: 0, EndTime: 2},
		}
		classifications := []session.ClassificationResult{
			{SegmentIndex: 0, Classification: session.OutOfCharacter, Confidence: 0.9},
		}

		// Act
		written, err := exporter.Export(context.Background(), "session.wav", segments, classifications, t.TempDir())

		// Assert
		require.NoError(t, err)
		assert.Empty(t, written)
	})

	t.Run("should succeed trivially with no segments", func(t *testing.T) {
		// Arrange
		exporter := NewExporter("/nonexistent/ffmpeg", false)

		// Act
		written, err := exporter.Export(context.Background(), "session.wav", nil, nil, t.TempDir())

		// Assert
		require.NoError(t, err)
		assert.Empty(t, written)
	})

	t.Run("should stop when the caller cancels", func(t *testing.T) {
		// Arrange
		exporter := NewExporter("/nonexistent/ffmpeg", false)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		segments := []session.TranscriptSegment{{Text: "one", StartTime: 0, EndTime: 2}}

		// Act
		_, err := exporter.Export(ctx, "session.wav", segments, nil, t.TempDir())

		// Assert
		assert.ErrorIs(t, err, context.Canceled)
	})
}
