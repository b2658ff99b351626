package knowledge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend returns a canned response or error.
type fakeBackend struct {
	response string
	err      error
	prompt   string
}

func (f *fakeBackend) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.response, f.err
}

func TestNopExtractor_Extract(t *testing.T) {
	t.Run("should return an empty report", func(t *testing.T) {
		// Act
		report, err := NopExtractor{}.Extract(context.Background(), Request{SessionID: "s1"})

		// Assert
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Empty(t, report.NPCs)
		assert.Empty(t, report.Quests)
		assert.Empty(t, report.Locations)
	})
}

func TestLLMExtractor_Extract(t *testing.T) {
	t.Run("should parse labeled entries into the report", func(t *testing.T) {
		// Arrange
		backend := &fakeBackend{response: `Here is what I found:
NPC: Grim the Blacksmith - runs the forge in Hollowbrook
NPC: Lady Maren - suspicious noble
QUEST: The Missing Caravan - find the merchants lost on the north road
LOCATION: Hollowbrook - a mining village`}
		extractor := NewLLMExtractor(backend, nil)

		// Act
		report, err := extractor.Extract(context.Background(), Request{
			SessionID:    "s1",
			ICTranscript: "some transcript",
		})

		// Assert
		require.NoError(t, err)
		require.Len(t, report.NPCs, 2)
		assert.Equal(t, "Grim the Blacksmith", report.NPCs[0].Name)
		assert.Equal(t, "runs the forge in Hollowbrook", report.NPCs[0].Description)
		require.Len(t, report.Quests, 1)
		assert.Equal(t, "The Missing Caravan", report.Quests[0].Name)
		require.Len(t, report.Locations, 1)
		assert.Equal(t, "Hollowbrook", report.Locations[0].Name)
	})

	t.Run("should accept entries without a description", func(t *testing.T) {
		// Arrange
		backend := &fakeBackend{response: "LOCATION: The Sunken Temple"}
		extractor := NewLLMExtractor(backend, nil)

		// Act
		report, err := extractor.Extract(context.Background(), Request{SessionID: "s1"})

		// Assert
		require.NoError(t, err)
		require.Len(t, report.Locations, 1)
		assert.Equal(t, "The Sunken Temple", report.Locations[0].Name)
		assert.Empty(t, report.Locations[0].Description)
	})

	t.Run("should return an empty report when the model call fails", func(t *testing.T) {
		// Arrange
		backend := &fakeBackend{err: fmt.Errorf("model unavailable")}
		extractor := NewLLMExtractor(backend, nil)

		// Act
		report, err := extractor.Extract(context.Background(), Request{SessionID: "s1"})

		// Assert
		require.NoError(t, err, "knowledge extraction never fails the run")
		assert.Empty(t, report.NPCs)
	})

	t.Run("should return an empty report for an unparsable response", func(t *testing.T) {
		// Arrange
		backend := &fakeBackend{response: "I could not identify anything of note."}
		extractor := NewLLMExtractor(backend, nil)

		// Act
		report, err := extractor.Extract(context.Background(), Request{SessionID: "s1"})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, report.NPCs)
		assert.Empty(t, report.Quests)
		assert.Empty(t, report.Locations)
	})

	t.Run("should include transcript and summaries in the prompt", func(t *testing.T) {
		// Arrange
		backend := &fakeBackend{response: ""}
		extractor := NewLLMExtractor(backend, nil)

		// Act
		_, err := extractor.Extract(context.Background(), Request{
			SessionID:      "s1",
			ICTranscript:   "the party meets Grim",
			SceneSummaries: []string{"Scene 1: arrival in Hollowbrook"},
		})

		// Assert
		require.NoError(t, err)
		assert.Contains(t, backend.prompt, "the party meets Grim")
		assert.Contains(t, backend.prompt, "Scene 1: arrival in Hollowbrook")
	})

	t.Run("should handle a nil backend", func(t *testing.T) {
		// Arrange
		extractor := NewLLMExtractor(nil, nil)

		// Act
		report, err := extractor.Extract(context.Background(), Request{SessionID: "s1"})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, report.NPCs)
	})
}
