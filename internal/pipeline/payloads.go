package pipeline

import "sessionscribe/internal/session"

// Stage checkpoint payloads. Each stage persists exactly what a resumed run
// needs to continue after it; bulky payloads (per-chunk transcripts) spill to
// blob sidecars inside the checkpoint store.

type conversionPayload struct {
	WavPath string `json:"wav_path"`
}

type chunkingPayload struct {
	Chunks []session.AudioChunk `json:"chunks"`
}

type transcriptionPayload struct {
	PerChunk [][]session.TranscriptSegment `json:"per_chunk"`
}

type mergePayload struct {
	Segments []session.TranscriptSegment `json:"segments"`
}

type diarizationPayload struct {
	Speakers   []session.SpeakerSegment            `json:"speakers"`
	Embeddings map[string]session.SpeakerEmbedding `json:"embeddings,omitempty"`
	Fallback   bool                                `json:"fallback"`
}

type classificationPayload struct {
	Classifications []session.ClassificationResult `json:"classifications"`
}

type outputPayload struct {
	OutputDir string                `json:"output_dir"`
	Scenes    []session.SceneBundle `json:"scenes"`
}

type snippetPayload struct {
	SnippetDir string `json:"snippet_dir"`
	Count      int    `json:"count"`
}

type knowledgePayload struct {
	Report *session.KnowledgeReport `json:"report"`
}
