package session

// KnowledgeEntry is one extracted campaign fact (an NPC, quest or location).
type KnowledgeEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// KnowledgeReport is the derived campaign knowledge for one session.
type KnowledgeReport struct {
	NPCs      []KnowledgeEntry `json:"npcs"`
	Quests    []KnowledgeEntry `json:"quests"`
	Locations []KnowledgeEntry `json:"locations"`
}

// SessionResult is the full output of one pipeline run. Slices are ordered:
// Segments and Classifications share indices, Scenes are time-ordered.
type SessionResult struct {
	SessionID       string                      `json:"session_id"`
	RunID           string                      `json:"run_id"`
	Segments        []TranscriptSegment         `json:"segments"`
	Speakers        []SpeakerSegment            `json:"speakers"`
	Embeddings      map[string]SpeakerEmbedding `json:"embeddings,omitempty"`
	Classifications []ClassificationResult      `json:"classifications"`
	Scenes          []SceneBundle               `json:"scenes"`
	Knowledge       *KnowledgeReport            `json:"knowledge,omitempty"`
	StagesRun       []Stage                     `json:"stages_run"`
	StagesSkipped   []Stage                     `json:"stages_skipped"`
}
