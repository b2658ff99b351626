package session

import "fmt"

// SceneBundle groups a contiguous run of transcript segments into one
// narrative scene. Built once per run from the final classified and
// speaker-attributed segment sequence; read-only afterwards.
type SceneBundle struct {
	SceneID                int            `json:"scene_id"`
	SegmentIndices         []int          `json:"segment_indices"`
	StartTime              float64        `json:"start_time"`
	EndTime                float64        `json:"end_time"`
	Speakers               []string       `json:"speakers"`
	DominantClassification Classification `json:"dominant_classification"`
	Summary                string         `json:"summary,omitempty"`
}

// Validate checks if the SceneBundle has valid values.
func (sb SceneBundle) Validate() error {
	if sb.SceneID < 0 {
		return fmt.Errorf("scene_id cannot be negative")
	}
	if len(sb.SegmentIndices) == 0 {
		return fmt.Errorf("scene must contain at least one segment")
	}
	if sb.EndTime < sb.StartTime {
		return fmt.Errorf("end_time cannot be before start_time")
	}
	if !sb.DominantClassification.Valid() {
		return fmt.Errorf("dominant_classification %q is not valid", sb.DominantClassification)
	}
	return nil
}
