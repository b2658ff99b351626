package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionscribe/internal/session"
)

type fakePayload struct {
	Note  string `json:"note"`
	Count int    `json:"count"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// saveThrough checkpoints stages 0..last in order for the session.
func saveThrough(t *testing.T, store *Store, sessionID string, last session.Stage) {
	t.Helper()
	for stage := session.Stage(0); stage <= last; stage++ {
		require.NoError(t, store.Save(context.Background(), sessionID, stage,
			fakePayload{Note: stage.String(), Count: int(stage)}))
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Run("should round-trip a stage payload", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()

		// Act
		err := store.Save(ctx, "session-1", session.StageAudioConversion,
			fakePayload{Note: "converted", Count: 1})

		// Assert
		require.NoError(t, err)
		loaded, err := store.Load(ctx, "session-1")
		require.NoError(t, err)
		require.Contains(t, loaded, session.StageAudioConversion)

		var decoded fakePayload
		require.NoError(t, loaded[session.StageAudioConversion].Decode(&decoded))
		assert.Equal(t, "converted", decoded.Note)
		assert.Equal(t, 1, decoded.Count)
		assert.False(t, loaded[session.StageAudioConversion].CompletedAt.IsZero())
	})

	t.Run("should overwrite an existing checkpoint for the same stage", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, "session-1", session.StageAudioConversion,
			fakePayload{Note: "first"}))

		// Act
		err := store.Save(ctx, "session-1", session.StageAudioConversion,
			fakePayload{Note: "second"})

		// Assert
		require.NoError(t, err)
		loaded, err := store.Load(ctx, "session-1")
		require.NoError(t, err)
		var decoded fakePayload
		require.NoError(t, loaded[session.StageAudioConversion].Decode(&decoded))
		assert.Equal(t, "second", decoded.Note)
	})

	t.Run("should reject empty session id", func(t *testing.T) {
		store := openTestStore(t)
		err := store.Save(context.Background(), "", session.StageAudioConversion, fakePayload{})
		assert.Error(t, err)
	})

	t.Run("should reject invalid stage", func(t *testing.T) {
		store := openTestStore(t)
		err := store.Save(context.Background(), "session-1", session.Stage(99), fakePayload{})
		assert.Error(t, err)
	})

	t.Run("should return empty map for unknown session", func(t *testing.T) {
		store := openTestStore(t)
		loaded, err := store.Load(context.Background(), "never-seen")
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})
}

func TestStore_StageOrderInvariant(t *testing.T) {
	t.Run("should refuse to checkpoint a stage before its predecessors", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)

		// Act
		err := store.Save(context.Background(), "session-1", session.StageTranscription,
			fakePayload{Note: "premature"})

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStageOrder)
	})

	t.Run("should accept stages saved strictly in order", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)

		// Act
		saveThrough(t, store, "session-1", session.StageKnowledgeExtraction)

		// Assert
		loaded, err := store.Load(context.Background(), "session-1")
		require.NoError(t, err)
		assert.Len(t, loaded, session.StageCount)
	})

	t.Run("should not count a failed stage as completed for ordering", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()
		require.NoError(t, store.Save(ctx, "session-1", session.StageAudioConversion, fakePayload{}))
		require.NoError(t, store.MarkFailed(ctx, "session-1", session.StageChunking,
			fmt.Errorf("chunker exploded")))

		// Act
		err := store.Save(ctx, "session-1", session.StageTranscription, fakePayload{})

		// Assert
		assert.ErrorIs(t, err, ErrStageOrder)
	})
}

func TestStore_HasCompleted(t *testing.T) {
	t.Run("should flip from false to true on save", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()

		done, err := store.HasCompleted(ctx, "session-1", session.StageAudioConversion)
		require.NoError(t, err)
		assert.False(t, done)

		// Act
		require.NoError(t, store.Save(ctx, "session-1", session.StageAudioConversion, fakePayload{}))

		// Assert
		done, err = store.HasCompleted(ctx, "session-1", session.StageAudioConversion)
		require.NoError(t, err)
		assert.True(t, done)
	})
}

func TestStore_MarkFailed(t *testing.T) {
	t.Run("should record the failure message", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()

		// Act
		require.NoError(t, store.MarkFailed(ctx, "session-1", session.StageTranscription,
			fmt.Errorf("engine timed out")))

		// Assert
		failed, err := store.FailedStages(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "engine timed out", failed[session.StageTranscription])
	})

	t.Run("should not disturb earlier completed checkpoints", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()
		saveThrough(t, store, "session-1", session.StageChunking)

		// Act
		require.NoError(t, store.MarkFailed(ctx, "session-1", session.StageTranscription,
			fmt.Errorf("boom")))

		// Assert
		loaded, err := store.Load(ctx, "session-1")
		require.NoError(t, err)
		assert.Contains(t, loaded, session.StageAudioConversion)
		assert.Contains(t, loaded, session.StageChunking)
		assert.NotContains(t, loaded, session.StageTranscription)
	})

	t.Run("should clear the failure once the stage completes", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()
		saveThrough(t, store, "session-1", session.StageChunking)
		require.NoError(t, store.MarkFailed(ctx, "session-1", session.StageTranscription,
			fmt.Errorf("boom")))

		// Act
		require.NoError(t, store.Save(ctx, "session-1", session.StageTranscription, fakePayload{}))

		// Assert
		failed, err := store.FailedStages(ctx, "session-1")
		require.NoError(t, err)
		assert.Empty(t, failed)
	})
}

func TestStore_BlobSpill(t *testing.T) {
	t.Run("should spill oversized payloads to a sidecar file and load them back", func(t *testing.T) {
		// Arrange
		root := t.TempDir()
		store, err := Open(root, nil)
		require.NoError(t, err)
		defer store.Close()
		store.SetBlobThreshold(64)
		ctx := context.Background()

		big := fakePayload{Note: string(make([]byte, 256)), Count: 7}

		// Act
		require.NoError(t, store.Save(ctx, "session-1", session.StageAudioConversion, big))

		// Assert
		blobPath := filepath.Join(root, "blobs", "session-1", "audio_conversion.json")
		_, statErr := os.Stat(blobPath)
		assert.NoError(t, statErr, "payload should live in a sidecar blob file")

		loaded, err := store.Load(ctx, "session-1")
		require.NoError(t, err)
		var decoded fakePayload
		require.NoError(t, loaded[session.StageAudioConversion].Decode(&decoded))
		assert.Equal(t, 7, decoded.Count)
	})

	t.Run("should skip a checkpoint whose blob is corrupt without failing the load", func(t *testing.T) {
		// Arrange
		root := t.TempDir()
		store, err := Open(root, nil)
		require.NoError(t, err)
		defer store.Close()
		store.SetBlobThreshold(64)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "session-1", session.StageAudioConversion,
			fakePayload{Note: string(make([]byte, 256))}))
		require.NoError(t, store.Save(ctx, "session-1", session.StageChunking,
			fakePayload{Note: "small"}))

		blobPath := filepath.Join(root, "blobs", "session-1", "audio_conversion.json")
		require.NoError(t, os.WriteFile(blobPath, []byte("{not valid json"), 0o644))

		// Act
		loaded, err := store.Load(ctx, "session-1")

		// Assert
		require.NoError(t, err)
		assert.NotContains(t, loaded, session.StageAudioConversion)
		assert.Contains(t, loaded, session.StageChunking)
	})
}

func TestStore_Clear(t *testing.T) {
	t.Run("should remove all checkpoints and blobs for the session", func(t *testing.T) {
		// Arrange
		root := t.TempDir()
		store, err := Open(root, nil)
		require.NoError(t, err)
		defer store.Close()
		store.SetBlobThreshold(64)
		ctx := context.Background()

		require.NoError(t, store.Save(ctx, "session-1", session.StageAudioConversion,
			fakePayload{Note: string(make([]byte, 256))}))
		saveThrough(t, store, "session-2", session.StageChunking)

		// Act
		require.NoError(t, store.Clear(ctx, "session-1"))

		// Assert
		loaded, err := store.Load(ctx, "session-1")
		require.NoError(t, err)
		assert.Empty(t, loaded)
		_, statErr := os.Stat(filepath.Join(root, "blobs", "session-1"))
		assert.True(t, os.IsNotExist(statErr), "blob dir should be removed")

		other, err := store.Load(ctx, "session-2")
		require.NoError(t, err)
		assert.Len(t, other, 2, "other sessions should be untouched")
	})
}

func TestStore_ConcurrentSessions(t *testing.T) {
	t.Run("should isolate concurrent writers for different sessions", func(t *testing.T) {
		// Arrange
		store := openTestStore(t)
		ctx := context.Background()
		sessions := []string{"session-a", "session-b", "session-c", "session-d"}

		// Act
		var wg sync.WaitGroup
		errs := make([]error, len(sessions))
		for i, id := range sessions {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				for stage := session.Stage(0); stage < session.StageCount; stage++ {
					if err := store.Save(ctx, id, stage, fakePayload{Note: id, Count: int(stage)}); err != nil {
						errs[i] = err
						return
					}
				}
			}(i, id)
		}
		wg.Wait()

		// Assert
		for i, id := range sessions {
			require.NoError(t, errs[i], "writer for %s should not fail", id)
			loaded, err := store.Load(ctx, id)
			require.NoError(t, err)
			assert.Len(t, loaded, session.StageCount)

			var decoded fakePayload
			require.NoError(t, loaded[session.StageMerge].Decode(&decoded))
			assert.Equal(t, id, decoded.Note, "payloads should not leak across sessions")
		}
	})
}
