package session

import (
	"fmt"
	"strings"
)

// AudioChunk is one bounded slice of the session audio produced by the chunker.
// Path references the chunk's WAV file on disk; times are seconds from the
// start of the session recording.
type AudioChunk struct {
	Index     int     `json:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Path      string  `json:"path"`
}

// Duration returns the chunk length in seconds.
func (c AudioChunk) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Validate checks if the AudioChunk has valid values.
func (c AudioChunk) Validate() error {
	if c.Index < 0 {
		return fmt.Errorf("index cannot be negative")
	}
	if c.StartTime < 0 {
		return fmt.Errorf("start_time cannot be negative")
	}
	if c.EndTime <= c.StartTime {
		return fmt.Errorf("end_time must be greater than start_time")
	}
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	return nil
}

// TranscriptSegment is a single transcribed utterance with session-relative
// timestamps. ChunkIndex records which audio chunk produced it so the merger
// can reason about chunk boundaries.
type TranscriptSegment struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	ChunkIndex int     `json:"chunk_index"`
}

// Validate checks if the TranscriptSegment has valid values.
func (ts TranscriptSegment) Validate() error {
	if strings.TrimSpace(ts.Text) == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if ts.StartTime < 0 {
		return fmt.Errorf("start_time cannot be negative")
	}
	if ts.EndTime <= ts.StartTime {
		return fmt.Errorf("end_time must be greater than start_time")
	}
	return nil
}

// SpeakerSegment attributes a span of session time to one diarized speaker.
// SpeakerID is an engine-assigned label (e.g. "SPEAKER_01"); mapping labels to
// player names happens outside this pipeline.
type SpeakerSegment struct {
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Validate checks if the SpeakerSegment has valid values.
func (ss SpeakerSegment) Validate() error {
	if ss.SpeakerID == "" {
		return fmt.Errorf("speaker_id cannot be empty")
	}
	if ss.EndTime <= ss.StartTime {
		return fmt.Errorf("end_time must be greater than start_time")
	}
	return nil
}

// SpeakerEmbedding is a fixed-length voice embedding used for cross-session
// speaker identity. Absent when no embedding model is available.
type SpeakerEmbedding []float64
