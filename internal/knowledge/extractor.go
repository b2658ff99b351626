// Package knowledge derives campaign facts (NPCs, quests, locations) from the
// in-character transcript. The actual extraction is an external collaborator
// behind the Extractor interface; an LLM-backed implementation and a no-op
// implementation are provided.
package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"sessionscribe/internal/classifier"
	"sessionscribe/internal/session"
)

// Request carries the material knowledge extraction works from.
type Request struct {
	SessionID      string
	ICTranscript   string
	SceneSummaries []string
}

// Extractor is the contract a knowledge-extraction collaborator satisfies.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*session.KnowledgeReport, error)
}

// NopExtractor returns an empty report. Used when no LLM backend is
// configured; the stage still completes and checkpoints.
type NopExtractor struct{}

// Extract implements Extractor.
func (NopExtractor) Extract(context.Context, Request) (*session.KnowledgeReport, error) {
	return &session.KnowledgeReport{}, nil
}

const extractPromptTemplate = `You are analyzing a tabletop role-playing session transcript.
List every NPC, quest and location mentioned. Use exactly this format, one entry per line:

NPC: <name> - <one line description>
QUEST: <name> - <one line description>
LOCATION: <name> - <one line description>

Scene summaries:
%s

In-character transcript:
%s`

// LLMExtractor asks an LLM backend for labeled entries and parses them.
type LLMExtractor struct {
	backend classifier.Backend
	logger  *zap.Logger
}

// NewLLMExtractor creates a new LLMExtractor instance
func NewLLMExtractor(backend classifier.Backend, logger *zap.Logger) *LLMExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExtractor{backend: backend, logger: logger}
}

var entryRe = regexp.MustCompile(`(?im)^\s*(NPC|QUEST|LOCATION)\s*:\s*([^-\n]+?)(?:\s*-\s*(.+))?$`)

// Extract implements Extractor. A failed or unparsable model response yields
// an empty report with a warning; knowledge extraction never fails the run.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) (*session.KnowledgeReport, error) {
	report := &session.KnowledgeReport{}
	if e.backend == nil {
		return report, nil
	}

	response, err := e.backend.Complete(ctx, buildPrompt(req))
	if err != nil {
		e.logger.Warn("knowledge extraction call failed, returning empty report",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return report, nil
	}

	for _, m := range entryRe.FindAllStringSubmatch(response, -1) {
		entry := session.KnowledgeEntry{
			Name:        strings.TrimSpace(m[2]),
			Description: strings.TrimSpace(m[3]),
		}
		if entry.Name == "" {
			continue
		}
		switch strings.ToUpper(m[1]) {
		case "NPC":
			report.NPCs = append(report.NPCs, entry)
		case "QUEST":
			report.Quests = append(report.Quests, entry)
		case "LOCATION":
			report.Locations = append(report.Locations, entry)
		}
	}

	e.logger.Info("knowledge extraction completed",
		zap.String("session_id", req.SessionID),
		zap.Int("npcs", len(report.NPCs)),
		zap.Int("quests", len(report.Quests)),
		zap.Int("locations", len(report.Locations)))
	return report, nil
}

func buildPrompt(req Request) string {
	summaries := strings.Join(req.SceneSummaries, "\n")
	if summaries == "" {
		summaries = "(none)"
	}
	transcript := req.ICTranscript
	if transcript == "" {
		transcript = "(empty)"
	}
	return fmt.Sprintf(extractPromptTemplate, summaries, transcript)
}
