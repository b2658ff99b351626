// Package output renders the pipeline's in-memory results into the artifacts
// consumed downstream: human-readable transcripts (full, IC-only, OOC-only),
// a machine-readable segment dump, and the scene bundle file.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sessionscribe/internal/session"
)

// Writer renders session results to files under an output directory.
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates a new Writer instance
func NewWriter() *Writer {
	return NewWriterWithLogger(nil)
}

// NewWriterWithLogger creates a new Writer instance with custom logger
func NewWriterWithLogger(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger}
}

// WriteAll renders every artifact for the session into dir.
func (w *Writer) WriteAll(dir string, result *session.SessionResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := w.WriteTranscripts(dir, result); err != nil {
		return err
	}
	if err := w.WriteSegmentDump(dir, result); err != nil {
		return err
	}
	if err := w.WriteScenes(dir, result.Scenes); err != nil {
		return err
	}

	w.logger.Info("output artifacts written",
		zap.String("dir", dir),
		zap.Int("segments", len(result.Segments)),
		zap.Int("scenes", len(result.Scenes)))
	return nil
}

// WriteTranscripts writes the full, IC-only and OOC-only transcript
// renderings. Mixed segments appear in both filtered views.
func (w *Writer) WriteTranscripts(dir string, result *session.SessionResult) error {
	views := []struct {
		name   string
		accept func(session.Classification) bool
	}{
		{"transcript_full.txt", func(session.Classification) bool { return true }},
		{"transcript_ic.txt", func(c session.Classification) bool { return c != session.OutOfCharacter }},
		{"transcript_ooc.txt", func(c session.Classification) bool { return c != session.InCharacter }},
	}

	for _, view := range views {
		var sb strings.Builder
		for i, seg := range result.Segments {
			c := classificationFor(result, i)
			if !view.accept(c) {
				continue
			}
			speaker := speakerAt(result.Speakers, seg)
			fmt.Fprintf(&sb, "[%s] %s (%s): %s\n",
				formatTimestamp(seg.StartTime), speaker, c, seg.Text)
		}
		if err := atomicWriteFile(filepath.Join(dir, view.name), []byte(sb.String())); err != nil {
			return fmt.Errorf("write %s: %w", view.name, err)
		}
	}
	return nil
}

// segmentRecord is one row of the machine-readable dump.
type segmentRecord struct {
	Index          int                    `json:"index"`
	Text           string                 `json:"text"`
	StartTime      float64                `json:"start_time"`
	EndTime        float64                `json:"end_time"`
	SpeakerID      string                 `json:"speaker_id"`
	Classification session.Classification `json:"classification"`
	Confidence     float64                `json:"confidence"`
	Character      string                 `json:"character,omitempty"`
}

// WriteSegmentDump writes segments.json, the joined segment + speaker +
// classification dump consumed by downstream tooling.
func (w *Writer) WriteSegmentDump(dir string, result *session.SessionResult) error {
	records := make([]segmentRecord, len(result.Segments))
	for i, seg := range result.Segments {
		rec := segmentRecord{
			Index:          i,
			Text:           seg.Text,
			StartTime:      seg.StartTime,
			EndTime:        seg.EndTime,
			SpeakerID:      speakerAt(result.Speakers, seg),
			Classification: session.InCharacter,
			Confidence:     0.5,
		}
		if i < len(result.Classifications) {
			rec.Classification = result.Classifications[i].Classification
			rec.Confidence = result.Classifications[i].Confidence
			rec.Character = result.Classifications[i].Character
		}
		records[i] = rec
	}

	data, err := json.MarshalIndent(map[string]interface{}{
		"session_id": result.SessionID,
		"run_id":     result.RunID,
		"segments":   records,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal segment dump: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, "segments.json"), data); err != nil {
		return fmt.Errorf("write segments.json: %w", err)
	}
	return nil
}

// WriteScenes writes scenes.json.
func (w *Writer) WriteScenes(dir string, scenes []session.SceneBundle) error {
	data, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scenes: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(dir, "scenes.json"), data); err != nil {
		return fmt.Errorf("write scenes.json: %w", err)
	}
	return nil
}

// classificationFor returns the classification recorded for segment i,
// defaulting to InCharacter when no classification exists for that index.
func classificationFor(result *session.SessionResult, i int) session.Classification {
	if i < len(result.Classifications) {
		return result.Classifications[i].Classification
	}
	return session.InCharacter
}

// speakerAt returns the speaker whose span overlaps the segment midpoint the
// most, or the dominant overlapping speaker.
func speakerAt(speakers []session.SpeakerSegment, seg session.TranscriptSegment) string {
	best := "UNKNOWN"
	bestOverlap := 0.0
	for _, sp := range speakers {
		overlap := minF(sp.EndTime, seg.EndTime) - maxF(sp.StartTime, seg.StartTime)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = sp.SpeakerID
		}
	}
	return best
}

// SpeakerIDs returns the sorted distinct speaker labels in the result.
func SpeakerIDs(speakers []session.SpeakerSegment) []string {
	set := make(map[string]struct{})
	for _, sp := range speakers {
		set[sp.SpeakerID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// atomicWriteFile writes via a temp file and rename so readers never observe
// a partially written artifact.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
