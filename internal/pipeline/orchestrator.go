// Package pipeline sequences the nine session processing stages, persisting a
// checkpoint after each so an interrupted multi-hour run resumes from the
// last completed stage instead of starting over.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionscribe/internal/audio"
	"sessionscribe/internal/checkpoint"
	"sessionscribe/internal/classifier"
	"sessionscribe/internal/config"
	"sessionscribe/internal/diarizer"
	"sessionscribe/internal/knowledge"
	"sessionscribe/internal/merger"
	"sessionscribe/internal/output"
	"sessionscribe/internal/scene"
	"sessionscribe/internal/snippet"
	"sessionscribe/internal/transcriber"

	"sessionscribe/internal/session"
)

// ErrCancelled indicates the run stopped at a stage boundary because the
// caller's context was cancelled. All completed stages remain checkpointed
// and a later run resumes after them.
var ErrCancelled = errors.New("pipeline run cancelled")

// Dependencies carries the external engines and collaborators the pipeline
// drives. Any nil engine degrades per its adapter's documented fallback.
type Dependencies struct {
	TranscriptionEngine transcriber.Engine
	DiarizationEngine   diarizer.Engine
	PrimaryBackend      classifier.Backend
	FallbackBackend     classifier.Backend
	Summarizer          scene.Summarizer
	Extractor           knowledge.Extractor
	Reporter            ProgressReporter
}

// Orchestrator runs the session processing pipeline.
//
// Concurrency contract: stages run strictly sequentially within one Run.
// Different sessions may run concurrently as independent Orchestrator runs;
// the checkpoint store isolates them. Two concurrent Runs for the SAME
// session id are undefined behavior: the caller must hold a per-session lock
// (the CLI uses a flock on the session id) before calling Run.
type Orchestrator struct {
	cfg      *config.Configuration
	logger   *zap.Logger
	store    *checkpoint.Store
	reporter ProgressReporter

	converter  *audio.Converter
	chunker    *audio.Chunker
	stt        *transcriber.Adapter
	merger     *merger.Merger
	diar       *diarizer.Adapter
	classifier *classifier.Classifier
	scenes     *scene.Builder
	writer     *output.Writer
	snippets   *snippet.Exporter
	extractor  knowledge.Extractor
}

// NewOrchestrator wires the pipeline from configuration and injected engines.
func NewOrchestrator(cfg *config.Configuration, store *checkpoint.Store, deps Dependencies, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.NewConfiguration()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}
	extractor := deps.Extractor
	if extractor == nil {
		if deps.PrimaryBackend != nil {
			extractor = knowledge.NewLLMExtractor(deps.PrimaryBackend, logger.Named("knowledge"))
		} else {
			extractor = knowledge.NopExtractor{}
		}
	}

	store.SetBlobThreshold(cfg.GetCheckpointBlobThresholdBytes())

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		reporter: reporter,
		converter: audio.NewConverterWithLogger(
			cfg.GetFFmpegPath(), cfg.GetSampleRate(), logger.Named("converter")),
		chunker: audio.NewChunkerWithLogger(audio.ChunkerOptions{
			MaxChunkDuration: cfg.GetMaxChunkDurationSec(),
			MinChunkDuration: cfg.GetMinChunkDurationSec(),
			Overlap:          cfg.GetChunkOverlapSec(),
			VADFrameMS:       cfg.GetVADFrameMS(),
			EnergyThreshold:  cfg.GetVADEnergyThreshold(),
			MinSilenceMS:     cfg.GetMinSilenceMS(),
		}, logger.Named("chunker")),
		stt: transcriber.NewAdapterWithLogger(deps.TranscriptionEngine, transcriber.AdapterOptions{
			Timeout:    time.Duration(cfg.GetTranscriberTimeoutSec()) * time.Second,
			MaxRetries: cfg.GetTranscriberMaxRetries(),
			Backoff:    time.Duration(cfg.GetTranscriberRetryBackoffMS()) * time.Millisecond,
		}, logger.Named("transcriber")),
		merger: merger.NewMergerWithLogger(logger.Named("merger")),
		diar: diarizer.NewAdapterWithLogger(deps.DiarizationEngine,
			time.Duration(cfg.GetDiarizerTimeoutSec())*time.Second, logger.Named("diarizer")),
		classifier: classifier.NewClassifierWithLogger(deps.PrimaryBackend, deps.FallbackBackend,
			classifier.Options{
				BatchSize:  cfg.GetClassifierBatchSize(),
				Workers:    cfg.GetClassifierWorkers(),
				MaxRetries: cfg.GetClassifierMaxRetries(),
				Timeout:    time.Duration(cfg.GetClassifierTimeoutSec()) * time.Second,
			}, logger.Named("classifier")),
		scenes: scene.NewBuilderWithLogger(scene.Options{
			GapThreshold:          cfg.GetSceneGapThresholdSec(),
			SplitOnClassification: cfg.GetSceneSplitOnClassification(),
			Strategy:              scene.SummaryStrategy(cfg.GetSceneSummaryStrategy()),
		}, deps.Summarizer, logger.Named("scenes")),
		writer:    output.NewWriterWithLogger(logger.Named("output")),
		snippets:  snippet.NewExporterWithLogger(cfg.GetFFmpegPath(), cfg.GetSnippetICOnly(), logger.Named("snippets")),
		extractor: extractor,
	}
}

// runState accumulates stage outputs during one run, whether freshly computed
// or restored from checkpoints.
type runState struct {
	wavPath         string
	chunks          []session.AudioChunk
	perChunk        [][]session.TranscriptSegment
	segments        []session.TranscriptSegment
	speakers        []session.SpeakerSegment
	embeddings      map[string]session.SpeakerEmbedding
	classifications []session.ClassificationResult
	scenes          []session.SceneBundle
	outputDir       string
	snippetDir      string
	report          *session.KnowledgeReport
}

// Run executes the pipeline for one session. It is idempotent under resume:
// completed stages are skipped by loading their checkpoints, and a run after
// full completion performs zero stage work.
func (o *Orchestrator) Run(ctx context.Context, sessionID, inputAudio string) (*session.SessionResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	runID := uuid.NewString()
	o.logger.Info("starting pipeline run",
		zap.String("session_id", sessionID),
		zap.String("run_id", runID),
		zap.String("input", inputAudio))

	completed, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}

	state := &runState{}
	result := &session.SessionResult{SessionID: sessionID, RunID: runID}

	for _, stage := range session.AllStages() {
		if payload, ok := completed[stage]; ok {
			if err := o.restoreStage(state, stage, payload); err != nil {
				// A corrupt checkpoint is fatal for the stage that needs it.
				return nil, o.failStage(ctx, sessionID, stage, fmt.Errorf("restore checkpoint: %w", err))
			}
			result.StagesSkipped = append(result.StagesSkipped, stage)
			o.reporter.Report(sessionID, stage, session.StatusSkipped, "restored from checkpoint")
			continue
		}

		// Cooperative cancellation is honored between stages only; the
		// current stage's checkpoint is already written, so state stays
		// resumable.
		select {
		case <-ctx.Done():
			o.logger.Info("run cancelled at stage boundary",
				zap.String("session_id", sessionID),
				zap.String("next_stage", stage.String()))
			return nil, fmt.Errorf("%w before stage %s", ErrCancelled, stage)
		default:
		}

		o.reporter.Report(sessionID, stage, session.StatusRunning, "")
		payload, stageErr := o.runStage(ctx, state, stage, sessionID, inputAudio)
		if stageErr != nil {
			return nil, o.failStage(ctx, sessionID, stage, stageErr)
		}
		if err := o.store.Save(ctx, sessionID, stage, payload); err != nil {
			return nil, o.failStage(ctx, sessionID, stage, fmt.Errorf("save checkpoint: %w", err))
		}
		result.StagesRun = append(result.StagesRun, stage)
		o.reporter.Report(sessionID, stage, session.StatusCompleted, "")
	}

	result.Segments = state.segments
	result.Speakers = state.speakers
	result.Embeddings = state.embeddings
	result.Classifications = state.classifications
	result.Scenes = state.scenes
	result.Knowledge = state.report

	o.logger.Info("pipeline run completed",
		zap.String("session_id", sessionID),
		zap.Int("stages_run", len(result.StagesRun)),
		zap.Int("stages_skipped", len(result.StagesSkipped)))
	return result, nil
}

// failStage records the failure, reports it, and wraps the error with the
// failing stage's name. Prior stages' checkpoints are untouched.
func (o *Orchestrator) failStage(ctx context.Context, sessionID string, stage session.Stage, stageErr error) error {
	if markErr := o.store.MarkFailed(ctx, sessionID, stage, stageErr); markErr != nil {
		o.logger.Error("failed to persist stage failure",
			zap.String("session_id", sessionID),
			zap.String("stage", stage.String()),
			zap.Error(markErr))
	}
	o.reporter.Report(sessionID, stage, session.StatusFailed, stageErr.Error())
	o.logger.Error("pipeline stage failed",
		zap.String("session_id", sessionID),
		zap.String("stage", stage.String()),
		zap.Error(stageErr))
	return fmt.Errorf("stage %s failed: %w", stage, stageErr)
}

// runStage executes one stage against the accumulated state and returns its
// checkpoint payload.
func (o *Orchestrator) runStage(ctx context.Context, state *runState, stage session.Stage, sessionID, inputAudio string) (interface{}, error) {
	switch stage {
	case session.StageAudioConversion:
		return o.stageConvert(ctx, state, sessionID, inputAudio)
	case session.StageChunking:
		return o.stageChunk(ctx, state, sessionID)
	case session.StageTranscription:
		return o.stageTranscribe(ctx, state)
	case session.StageMerge:
		return o.stageMerge(state)
	case session.StageDiarization:
		return o.stageDiarize(ctx, state)
	case session.StageClassification:
		return o.stageClassify(ctx, state)
	case session.StageOutputGeneration:
		return o.stageOutput(ctx, state, sessionID)
	case session.StageSnippetExport:
		return o.stageSnippets(ctx, state, sessionID)
	case session.StageKnowledgeExtraction:
		return o.stageKnowledge(ctx, state, sessionID)
	default:
		return nil, fmt.Errorf("unknown stage %d", int(stage))
	}
}

func (o *Orchestrator) workDir(sessionID string) string {
	return filepath.Join(o.cfg.GetWorkDir(), sessionID)
}

func (o *Orchestrator) stageConvert(ctx context.Context, state *runState, sessionID, inputAudio string) (interface{}, error) {
	wavPath := filepath.Join(o.workDir(sessionID), "session.wav")
	if err := ensureDir(filepath.Dir(wavPath)); err != nil {
		return nil, err
	}
	if err := o.converter.Convert(ctx, inputAudio, wavPath); err != nil {
		return nil, err
	}
	state.wavPath = wavPath
	return conversionPayload{WavPath: wavPath}, nil
}

func (o *Orchestrator) stageChunk(ctx context.Context, state *runState, sessionID string) (interface{}, error) {
	chunks, err := o.chunker.Chunk(ctx, state.wavPath, filepath.Join(o.workDir(sessionID), "chunks"))
	if err != nil {
		return nil, err
	}
	state.chunks = chunks
	return chunkingPayload{Chunks: chunks}, nil
}

func (o *Orchestrator) stageTranscribe(ctx context.Context, state *runState) (interface{}, error) {
	perChunk, err := o.stt.TranscribeChunks(ctx, state.chunks)
	if err != nil {
		return nil, err
	}
	state.perChunk = perChunk
	return transcriptionPayload{PerChunk: perChunk}, nil
}

func (o *Orchestrator) stageMerge(state *runState) (interface{}, error) {
	state.segments = o.merger.Merge(state.perChunk, state.chunks)
	return mergePayload{Segments: state.segments}, nil
}

func (o *Orchestrator) stageDiarize(ctx context.Context, state *runState) (interface{}, error) {
	speakers, embeddings, err := o.diar.Diarize(ctx, state.wavPath)
	if err != nil {
		return nil, err
	}
	state.speakers = speakers
	state.embeddings = embeddings
	fallback := len(speakers) == 1 && speakers[0].SpeakerID == diarizer.FallbackSpeakerID
	return diarizationPayload{Speakers: speakers, Embeddings: embeddings, Fallback: fallback}, nil
}

func (o *Orchestrator) stageClassify(ctx context.Context, state *runState) (interface{}, error) {
	state.classifications = o.classifier.Classify(ctx, state.segments,
		o.cfg.GetCharacterNames(), o.cfg.GetPlayerNames())
	return classificationPayload{Classifications: state.classifications}, nil
}

func (o *Orchestrator) stageOutput(ctx context.Context, state *runState, sessionID string) (interface{}, error) {
	state.scenes = o.scenes.Build(ctx, state.segments, state.speakers, state.classifications)

	outputDir := filepath.Join(o.cfg.GetOutputDir(), sessionID)
	result := &session.SessionResult{
		SessionID:       sessionID,
		Segments:        state.segments,
		Speakers:        state.speakers,
		Classifications: state.classifications,
		Scenes:          state.scenes,
	}
	if err := o.writer.WriteAll(outputDir, result); err != nil {
		return nil, err
	}
	state.outputDir = outputDir
	return outputPayload{OutputDir: outputDir, Scenes: state.scenes}, nil
}

func (o *Orchestrator) stageSnippets(ctx context.Context, state *runState, sessionID string) (interface{}, error) {
	if !o.cfg.GetSnippetExportEnabled() {
		o.logger.Info("snippet export disabled, stage is a no-op")
		return snippetPayload{}, nil
	}
	dir := filepath.Join(o.cfg.GetOutputDir(), sessionID, "snippets")
	written, err := o.snippets.Export(ctx, state.wavPath, state.segments, state.classifications, dir)
	if err != nil {
		return nil, err
	}
	state.snippetDir = dir
	return snippetPayload{SnippetDir: dir, Count: len(written)}, nil
}

func (o *Orchestrator) stageKnowledge(ctx context.Context, state *runState, sessionID string) (interface{}, error) {
	var (
		icText    strings.Builder
		summaries []string
	)
	for i, seg := range state.segments {
		if i < len(state.classifications) &&
			state.classifications[i].Classification == session.OutOfCharacter {
			continue
		}
		icText.WriteString(seg.Text)
		icText.WriteString("\n")
	}
	for _, sc := range state.scenes {
		if sc.Summary != "" {
			summaries = append(summaries, sc.Summary)
		}
	}

	report, err := o.extractor.Extract(ctx, knowledge.Request{
		SessionID:      sessionID,
		ICTranscript:   icText.String(),
		SceneSummaries: summaries,
	})
	if err != nil {
		return nil, err
	}
	state.report = report
	return knowledgePayload{Report: report}, nil
}

// restoreStage repopulates run state from a completed stage's checkpoint.
func (o *Orchestrator) restoreStage(state *runState, stage session.Stage, payload checkpoint.Payload) error {
	switch stage {
	case session.StageAudioConversion:
		var p conversionPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.wavPath = p.WavPath
	case session.StageChunking:
		var p chunkingPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.chunks = p.Chunks
	case session.StageTranscription:
		var p transcriptionPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.perChunk = p.PerChunk
	case session.StageMerge:
		var p mergePayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.segments = p.Segments
	case session.StageDiarization:
		var p diarizationPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.speakers = p.Speakers
		state.embeddings = p.Embeddings
	case session.StageClassification:
		var p classificationPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.classifications = p.Classifications
	case session.StageOutputGeneration:
		var p outputPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.outputDir = p.OutputDir
		state.scenes = p.Scenes
	case session.StageSnippetExport:
		var p snippetPayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.snippetDir = p.SnippetDir
	case session.StageKnowledgeExtraction:
		var p knowledgePayload
		if err := payload.Decode(&p); err != nil {
			return err
		}
		state.report = p.Report
	}
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}
