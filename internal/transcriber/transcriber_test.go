package transcriber

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionscribe/internal/session"
)

// fakeEngine returns canned segments per chunk path and can fail the first N
// calls to exercise the retry loop.
type fakeEngine struct {
	mu        sync.Mutex
	segments  map[string][]session.TranscriptSegment
	failFirst int
	calls     int
	block     bool
}

func (f *fakeEngine) Transcribe(ctx context.Context, chunkPath string) ([]session.TranscriptSegment, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if calls <= f.failFirst {
		return nil, fmt.Errorf("transient engine failure %d", calls)
	}
	return f.segments[chunkPath], nil
}

func testOptions() AdapterOptions {
	return AdapterOptions{Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}
}

func TestAdapter_TranscribeChunks(t *testing.T) {
	t.Run("should shift timestamps into session time and stamp chunk indices", func(t *testing.T) {
		// Arrange
		engine := &fakeEngine{segments: map[string][]session.TranscriptSegment{
			"chunk0.wav": {{Text: "hello", StartTime: 0.5, EndTime: 2.0}},
			"chunk1.wav": {{Text: "world", StartTime: 1.0, EndTime: 3.0}},
		}}
		adapter := NewAdapter(engine, testOptions())
		chunks := []session.AudioChunk{
			{Index: 0, StartTime: 0, EndTime: 100, Path: "chunk0.wav"},
			{Index: 1, StartTime: 95, EndTime: 200, Path: "chunk1.wav"},
		}

		// Act
		perChunk, err := adapter.TranscribeChunks(context.Background(), chunks)

		// Assert
		require.NoError(t, err)
		require.Len(t, perChunk, 2)

		require.Len(t, perChunk[0], 1)
		assert.Equal(t, 0.5, perChunk[0][0].StartTime)
		assert.Equal(t, 0, perChunk[0][0].ChunkIndex)

		require.Len(t, perChunk[1], 1)
		assert.Equal(t, 96.0, perChunk[1][0].StartTime)
		assert.Equal(t, 98.0, perChunk[1][0].EndTime)
		assert.Equal(t, 1, perChunk[1][0].ChunkIndex)
	})

	t.Run("should drop empty segments from engine output", func(t *testing.T) {
		// Arrange
		engine := &fakeEngine{segments: map[string][]session.TranscriptSegment{
			"chunk0.wav": {
				{Text: "  ", StartTime: 0, EndTime: 1},
				{Text: "keep me", StartTime: 1, EndTime: 2},
			},
		}}
		adapter := NewAdapter(engine, testOptions())
		chunks := []session.AudioChunk{{Index: 0, StartTime: 0, EndTime: 10, Path: "chunk0.wav"}}

		// Act
		perChunk, err := adapter.TranscribeChunks(context.Background(), chunks)

		// Assert
		require.NoError(t, err)
		require.Len(t, perChunk[0], 1)
		assert.Equal(t, "keep me", perChunk[0][0].Text)
	})

	t.Run("should retry transient failures and succeed within the budget", func(t *testing.T) {
		// Arrange
		engine := &fakeEngine{
			failFirst: 2,
			segments: map[string][]session.TranscriptSegment{
				"chunk0.wav": {{Text: "third time lucky", StartTime: 0, EndTime: 1}},
			},
		}
		adapter := NewAdapter(engine, testOptions())
		chunks := []session.AudioChunk{{Index: 0, StartTime: 0, EndTime: 10, Path: "chunk0.wav"}}

		// Act
		perChunk, err := adapter.TranscribeChunks(context.Background(), chunks)

		// Assert
		require.NoError(t, err)
		require.Len(t, perChunk[0], 1)
		assert.Equal(t, "third time lucky", perChunk[0][0].Text)
		assert.Equal(t, 3, engine.calls)
	})

	t.Run("should fail the stage once retries are exhausted", func(t *testing.T) {
		// Arrange
		engine := &fakeEngine{failFirst: 100}
		adapter := NewAdapter(engine, testOptions())
		chunks := []session.AudioChunk{{Index: 3, StartTime: 0, EndTime: 10, Path: "chunk3.wav"}}

		// Act
		_, err := adapter.TranscribeChunks(context.Background(), chunks)

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transcribe chunk 3")
		assert.Contains(t, err.Error(), "exhausted 2 retries")
	})

	t.Run("should surface a hung engine as a timeout error", func(t *testing.T) {
		// Arrange
		engine := &fakeEngine{block: true}
		adapter := NewAdapter(engine, AdapterOptions{
			Timeout: 20 * time.Millisecond, MaxRetries: 1, Backoff: time.Millisecond,
		})
		chunks := []session.AudioChunk{{Index: 0, StartTime: 0, EndTime: 10, Path: "chunk0.wav"}}

		// Act
		_, err := adapter.TranscribeChunks(context.Background(), chunks)

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEngineTimeout)
	})

	t.Run("should stop immediately when the caller cancels", func(t *testing.T) {
		// Arrange
		engine := &fakeEngine{block: true}
		adapter := NewAdapter(engine, testOptions())
		chunks := []session.AudioChunk{{Index: 0, StartTime: 0, EndTime: 10, Path: "chunk0.wav"}}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		// Act
		_, err := adapter.TranscribeChunks(ctx, chunks)

		// Assert
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should fail without an engine", func(t *testing.T) {
		// Arrange
		adapter := NewAdapter(nil, testOptions())

		// Act
		_, err := adapter.TranscribeChunks(context.Background(), nil)

		// Assert
		assert.Error(t, err)
	})
}
