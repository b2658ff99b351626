package session

import (
	"fmt"
	"strings"
)

// Classification labels a transcript segment as narrative speech, table talk,
// or a mixture of both.
type Classification string

const (
	InCharacter    Classification = "IN_CHARACTER"
	OutOfCharacter Classification = "OUT_OF_CHARACTER"
	Mixed          Classification = "MIXED"
)

// ParseClassification normalizes free-form model output into a Classification.
// Unrecognized values default to InCharacter rather than failing; a malformed
// model response must never abort a classification batch.
func ParseClassification(raw string) Classification {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN_CHARACTER", "IN-CHARACTER", "IC":
		return InCharacter
	case "OUT_OF_CHARACTER", "OUT-OF-CHARACTER", "OOC":
		return OutOfCharacter
	case "MIXED":
		return Mixed
	default:
		return InCharacter
	}
}

// Valid reports whether the classification is one of the defined labels.
func (c Classification) Valid() bool {
	switch c {
	case InCharacter, OutOfCharacter, Mixed:
		return true
	}
	return false
}

// ClassificationResult is the classifier's verdict for one transcript segment.
// Results are immutable once written to output.
type ClassificationResult struct {
	SegmentIndex   int            `json:"segment_index"`
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Character      string         `json:"character,omitempty"`
}

// Validate checks if the ClassificationResult has valid values.
func (cr ClassificationResult) Validate() error {
	if cr.SegmentIndex < 0 {
		return fmt.Errorf("segment_index cannot be negative")
	}
	if !cr.Classification.Valid() {
		return fmt.Errorf("classification %q is not valid", cr.Classification)
	}
	if cr.Confidence < 0.0 || cr.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0")
	}
	return nil
}

// ClampConfidence forces a confidence value into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
