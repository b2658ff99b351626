package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"sessionscribe/internal/checkpoint"
	"sessionscribe/internal/config"
	"sessionscribe/internal/engines"
	"sessionscribe/internal/logger"
	"sessionscribe/internal/pipeline"
)

const version = "1.0"

// main is the application entry point and orchestrator setup
func main() {
	var (
		inputFlag   = flag.String("input", "", "Path to the session audio recording (required)")
		sessionFlag = flag.String("session", "", "Session identifier (required)")
		configFlag  = flag.String("config", "", "Path to a config file (falls back to CONFIG_PATH, then environment)")
		outputFlag  = flag.String("output", "", "Output directory override")
		clearFlag   = flag.Bool("clear", false, "Clear existing checkpoints for the session before running")
		versionFlag = flag.Bool("version", false, "Show version information")
		helpFlag    = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("sessionscribe v%s\n", version)
		os.Exit(0)
	}

	if *inputFlag == "" || *sessionFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: -input and -session are required")
		printHelp()
		os.Exit(2)
	}

	if err := runPipeline(*inputFlag, *sessionFlag, *configFlag, *outputFlag, *clearFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Pipeline error: %v\n", err)
		os.Exit(1)
	}
}

// runPipeline contains the core application logic that can be tested
func runPipeline(inputPath, sessionID, configPath, outputDir string, clear bool) error {
	// Load configuration from config file if provided, otherwise use environment variables
	var cfg *config.Configuration
	var err error

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		cfg, err = config.NewConfigurationFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.NewConfigurationFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load config from environment: %w", err)
		}
	}
	if outputDir != "" {
		cfg.Set("output.dir", outputDir)
	}

	zapLogger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("sessionscribe starting up",
		zap.String("component", "main"),
		zap.String("version", version),
		zap.String("session_id", sessionID),
		zap.String("input", inputPath))

	// Concurrent runs against the same session id are undefined behavior in
	// the pipeline; the CLI is the caller responsible for preventing them.
	if err := os.MkdirAll(cfg.GetCheckpointDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.GetCheckpointDir(), sessionID+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("session %s is already being processed by another run", sessionID)
	}
	defer lock.Unlock()

	store, err := checkpoint.Open(cfg.GetCheckpointDir(), zapLogger.Named("checkpoint"))
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	// Cancel cleanly on SIGINT/SIGTERM; the orchestrator stops at the next
	// stage boundary with state resumable.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if clear {
		if err := store.Clear(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to clear checkpoints: %w", err)
		}
		zapLogger.Info("cleared existing checkpoints", zap.String("session_id", sessionID))
	}

	deps := pipeline.Dependencies{
		Reporter: pipeline.NewLogReporter(zapLogger.Named("progress")),
		TranscriptionEngine: engines.NewWhisperCLIEngine(
			cfg.GetWhisperBinaryPath(), cfg.GetWhisperModelPath(), zapLogger.Named("whisper")),
	}

	// LLM backends are optional; without one the classifier degrades to its
	// documented defaults and knowledge extraction is a no-op.
	if cfg.GetLLMModel() != "" {
		apiKey := os.Getenv(cfg.GetLLMAPIKeyEnv())
		deps.PrimaryBackend = engines.NewChatBackend(
			cfg.GetLLMEndpoint(), apiKey, cfg.GetLLMModel(), zapLogger.Named("llm"))
		if cfg.GetLLMFallbackModel() != "" {
			deps.FallbackBackend = engines.NewChatBackend(
				cfg.GetLLMEndpoint(), apiKey, cfg.GetLLMFallbackModel(), zapLogger.Named("llm_fallback"))
		}
	}

	orchestrator := pipeline.NewOrchestrator(cfg, store, deps, zapLogger)

	result, err := orchestrator.Run(ctx, sessionID, inputPath)
	if err != nil {
		return err
	}

	zapLogger.Info("session processing finished",
		zap.String("session_id", result.SessionID),
		zap.String("run_id", result.RunID),
		zap.Int("segments", len(result.Segments)),
		zap.Int("scenes", len(result.Scenes)),
		zap.Int("stages_run", len(result.StagesRun)),
		zap.Int("stages_skipped", len(result.StagesSkipped)))

	fmt.Printf("Session %s processed: %d segments, %d scenes (%d stages run, %d resumed)\n",
		result.SessionID, len(result.Segments), len(result.Scenes),
		len(result.StagesRun), len(result.StagesSkipped))
	return nil
}

// buildLogger selects the logger flavor from configuration: a debug-level
// console logger when debug mode is on, the default production logger
// otherwise.
func buildLogger(cfg *config.Configuration) (*zap.Logger, error) {
	if cfg.GetDebugMode() {
		return logger.NewDevelopmentLogger()
	}
	return logger.NewLogger(), nil
}

func printHelp() {
	fmt.Println("sessionscribe - tabletop session transcription pipeline")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sessionscribe -input <recording> -session <id> [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("A run that fails or is interrupted resumes from the last completed")
	fmt.Println("stage on the next invocation with the same -session id.")
}
