package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sessionscribe/internal/session"
)

// promptContext is the neighborhood handed to the model for one segment:
// the previous and next segment texts anchor the current one.
type promptContext struct {
	Previous string
	Current  string
	Next     string
}

const singlePromptTemplate = `You are analyzing a transcript of a tabletop role-playing session.
Decide whether the CURRENT segment is spoken in-character (part of the fictional narrative),
out-of-character (real-world table talk), or mixed.

Known character names: %s
Known player names: %s

PREVIOUS: %s
CURRENT: %s
NEXT: %s

Respond with exactly these fields:
CLASSIFICATION: IN_CHARACTER, OUT_OF_CHARACTER, or MIXED
CONFIDENCE: a number between 0.0 and 1.0
REASONING: one sentence
CHARACTER: the speaking character's name, or NONE`

const batchPromptHeader = `You are analyzing a transcript of a tabletop role-playing session.
For each numbered segment below, decide whether it is spoken in-character (part of the
fictional narrative), out-of-character (real-world table talk), or mixed.

Known character names: %s
Known player names: %s

%s
For every segment, respond with a block in exactly this form:
SEGMENT <number>:
CLASSIFICATION: IN_CHARACTER, OUT_OF_CHARACTER, or MIXED
CONFIDENCE: a number between 0.0 and 1.0
REASONING: one sentence
CHARACTER: the speaking character's name, or NONE`

func nameList(names []string) string {
	if len(names) == 0 {
		return "(none provided)"
	}
	return strings.Join(names, ", ")
}

// buildSinglePrompt renders the classification prompt for one segment with
// its surrounding context.
func buildSinglePrompt(pc promptContext, characterNames, playerNames []string) string {
	prev := pc.Previous
	if prev == "" {
		prev = "(start of session)"
	}
	next := pc.Next
	if next == "" {
		next = "(end of session)"
	}
	return fmt.Sprintf(singlePromptTemplate,
		nameList(characterNames), nameList(playerNames), prev, pc.Current, next)
}

// buildBatchPrompt renders one prompt covering a batch of consecutive
// segments, numbered from 1.
func buildBatchPrompt(texts []string, characterNames, playerNames []string) string {
	var sb strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&sb, "SEGMENT %d: %s\n", i+1, t)
	}
	return fmt.Sprintf(batchPromptHeader,
		nameList(characterNames), nameList(playerNames), sb.String())
}

var (
	classificationRe = regexp.MustCompile(`(?im)^\s*CLASSIFICATION\s*:\s*(.+)$`)
	confidenceRe     = regexp.MustCompile(`(?im)^\s*CONFIDENCE\s*:\s*([0-9.]+)`)
	reasoningRe      = regexp.MustCompile(`(?im)^\s*REASONING\s*:\s*(.+)$`)
	characterRe      = regexp.MustCompile(`(?im)^\s*CHARACTER\s*:\s*(.+)$`)
	batchSegmentRe   = regexp.MustCompile(`(?im)^\s*SEGMENT\s+(\d+)\s*:`)
)

// parseResponse extracts the labeled fields from one model response block.
// Missing or malformed fields degrade to defaults; parsing never fails.
func parseResponse(text string) session.ClassificationResult {
	result := session.ClassificationResult{
		Classification: session.InCharacter,
		Confidence:     0.5,
	}

	if m := classificationRe.FindStringSubmatch(text); m != nil {
		result.Classification = session.ParseClassification(m[1])
	}
	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64); err == nil {
			result.Confidence = session.ClampConfidence(v)
		}
	}
	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		result.Reasoning = strings.TrimSpace(m[1])
	}
	if m := characterRe.FindStringSubmatch(text); m != nil {
		character := strings.TrimSpace(m[1])
		if !strings.EqualFold(character, "NONE") && character != "" {
			result.Character = character
		}
	}
	return result
}

// parseBatchResponse splits a batch response into per-segment blocks keyed by
// the 1-based segment number. Blocks with unparsable numbers are skipped;
// callers treat missing entries as a batch parse failure for those segments.
func parseBatchResponse(text string) map[int]session.ClassificationResult {
	locs := batchSegmentRe.FindAllStringSubmatchIndex(text, -1)
	out := make(map[int]session.ClassificationResult, len(locs))
	for i, loc := range locs {
		num, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || num < 1 {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[num] = parseResponse(text[loc[1]:end])
	}
	return out
}
