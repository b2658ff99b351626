package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Configuration provides type-safe access to application settings
type Configuration struct {
	viper *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.sample_rate", 16000)

	v.SetDefault("chunker.max_chunk_duration_sec", 300.0)
	v.SetDefault("chunker.min_chunk_duration_sec", 10.0)
	v.SetDefault("chunker.overlap_sec", 5.0)
	v.SetDefault("chunker.vad_frame_ms", 30)
	v.SetDefault("chunker.vad_energy_threshold", 0.012)
	v.SetDefault("chunker.min_silence_ms", 500)

	v.SetDefault("transcriber.binary_path", "whisper-cli")
	v.SetDefault("transcriber.model_path", "./models/ggml-base.en.bin")
	v.SetDefault("transcriber.timeout_sec", 600)
	v.SetDefault("transcriber.max_retries", 3)
	v.SetDefault("transcriber.retry_backoff_ms", 2000)

	v.SetDefault("diarizer.timeout_sec", 1800)

	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.fallback_model", "")

	v.SetDefault("classifier.batch_size", 10)
	v.SetDefault("classifier.workers", 4)
	v.SetDefault("classifier.max_retries", 2)
	v.SetDefault("classifier.timeout_sec", 120)

	v.SetDefault("scene.gap_threshold_sec", 75.0)
	v.SetDefault("scene.split_on_classification", true)
	v.SetDefault("scene.summary_strategy", "template")

	v.SetDefault("checkpoint.dir", "./checkpoints")
	v.SetDefault("checkpoint.blob_threshold_bytes", 256*1024)

	v.SetDefault("output.dir", "./output")
	v.SetDefault("output.work_dir", "./work")

	v.SetDefault("snippet.enabled", true)
	v.SetDefault("snippet.ic_only", false)

	v.SetDefault("session.character_names", []string{})
	v.SetDefault("session.player_names", []string{})

	v.SetDefault("debug.enabled", false)
}

// NewConfiguration creates a new Configuration instance with default settings
func NewConfiguration() *Configuration {
	v := viper.New()
	setDefaults(v)
	return &Configuration{viper: v}
}

// NewConfigurationFromFile creates a Configuration instance from a config file
func NewConfigurationFromFile(configFile string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return &Configuration{viper: v}, nil
}

// NewConfigurationFromEnv creates a Configuration instance that reads from environment variables
func NewConfigurationFromEnv() (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	// Set up environment variable mapping
	v.SetEnvPrefix("SCRIBE")
	v.AutomaticEnv()

	// Map specific environment variables
	v.BindEnv("audio.ffmpeg_path", "FFMPEG_PATH")
	v.BindEnv("checkpoint.dir", "CHECKPOINT_DIR")
	v.BindEnv("output.dir", "OUTPUT_DIR")
	v.BindEnv("output.work_dir", "WORK_DIR")
	v.BindEnv("classifier.workers", "CLASSIFIER_WORKERS")
	v.BindEnv("transcriber.binary_path", "WHISPER_BINARY")
	v.BindEnv("transcriber.model_path", "WHISPER_MODEL_PATH")
	v.BindEnv("llm.endpoint", "LLM_ENDPOINT")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("llm.fallback_model", "LLM_FALLBACK_MODEL")
	v.BindEnv("debug.enabled", "SCRIBE_DEBUG")

	return &Configuration{viper: v}, nil
}

// Set overrides a configuration value. Intended for tests and CLI flag overrides.
func (c *Configuration) Set(key string, value interface{}) {
	c.viper.Set(key, value)
}

// GetFFmpegPath returns the ffmpeg binary path used for conversion and snippet export
func (c *Configuration) GetFFmpegPath() string {
	return c.viper.GetString("audio.ffmpeg_path")
}

// GetSampleRate returns the PCM sample rate the pipeline normalizes audio to
func (c *Configuration) GetSampleRate() int {
	return c.viper.GetInt("audio.sample_rate")
}

// GetMaxChunkDurationSec returns the upper bound on chunk length in seconds
func (c *Configuration) GetMaxChunkDurationSec() float64 {
	return c.viper.GetFloat64("chunker.max_chunk_duration_sec")
}

// GetMinChunkDurationSec returns the lower bound on chunk length in seconds
func (c *Configuration) GetMinChunkDurationSec() float64 {
	return c.viper.GetFloat64("chunker.min_chunk_duration_sec")
}

// GetChunkOverlapSec returns the overlap window shared by adjacent chunks
func (c *Configuration) GetChunkOverlapSec() float64 {
	return c.viper.GetFloat64("chunker.overlap_sec")
}

// GetVADFrameMS returns the VAD analysis frame size in milliseconds
func (c *Configuration) GetVADFrameMS() int {
	return c.viper.GetInt("chunker.vad_frame_ms")
}

// GetVADEnergyThreshold returns the RMS energy level below which a frame counts as silence
func (c *Configuration) GetVADEnergyThreshold() float64 {
	return c.viper.GetFloat64("chunker.vad_energy_threshold")
}

// GetMinSilenceMS returns the minimum silence run length considered a split point
func (c *Configuration) GetMinSilenceMS() int {
	return c.viper.GetInt("chunker.min_silence_ms")
}

// GetWhisperBinaryPath returns the whisper.cpp command-line binary path
func (c *Configuration) GetWhisperBinaryPath() string {
	return c.viper.GetString("transcriber.binary_path")
}

// GetWhisperModelPath returns the configured Whisper model path
func (c *Configuration) GetWhisperModelPath() string {
	return c.viper.GetString("transcriber.model_path")
}

// GetLLMEndpoint returns the chat completions endpoint URL, empty for the provider default
func (c *Configuration) GetLLMEndpoint() string {
	return c.viper.GetString("llm.endpoint")
}

// GetLLMAPIKeyEnv returns the environment variable name holding the LLM API key
func (c *Configuration) GetLLMAPIKeyEnv() string {
	return c.viper.GetString("llm.api_key_env")
}

// GetLLMModel returns the primary classification model name, empty when no LLM is configured
func (c *Configuration) GetLLMModel() string {
	return c.viper.GetString("llm.model")
}

// GetLLMFallbackModel returns the fallback model name used when the primary model fails
func (c *Configuration) GetLLMFallbackModel() string {
	return c.viper.GetString("llm.fallback_model")
}

// GetTranscriberTimeoutSec returns the per-chunk transcription timeout
func (c *Configuration) GetTranscriberTimeoutSec() int {
	return c.viper.GetInt("transcriber.timeout_sec")
}

// GetTranscriberMaxRetries returns the transient-failure retry budget per chunk
func (c *Configuration) GetTranscriberMaxRetries() int {
	return c.viper.GetInt("transcriber.max_retries")
}

// GetTranscriberRetryBackoffMS returns the base backoff between transcription retries
func (c *Configuration) GetTranscriberRetryBackoffMS() int {
	return c.viper.GetInt("transcriber.retry_backoff_ms")
}

// GetDiarizerTimeoutSec returns the whole-session diarization timeout
func (c *Configuration) GetDiarizerTimeoutSec() int {
	return c.viper.GetInt("diarizer.timeout_sec")
}

// GetClassifierBatchSize returns how many segments share one classification prompt
func (c *Configuration) GetClassifierBatchSize() int {
	return c.viper.GetInt("classifier.batch_size")
}

// GetClassifierWorkers returns the bounded worker pool size for batch dispatch
func (c *Configuration) GetClassifierWorkers() int {
	return c.viper.GetInt("classifier.workers")
}

// GetClassifierMaxRetries returns the per-backend retry budget for one call
func (c *Configuration) GetClassifierMaxRetries() int {
	return c.viper.GetInt("classifier.max_retries")
}

// GetClassifierTimeoutSec returns the per-call LLM timeout
func (c *Configuration) GetClassifierTimeoutSec() int {
	return c.viper.GetInt("classifier.timeout_sec")
}

// GetSceneGapThresholdSec returns the silence gap that forces a scene break
func (c *Configuration) GetSceneGapThresholdSec() float64 {
	return c.viper.GetFloat64("scene.gap_threshold_sec")
}

// GetSceneSplitOnClassification returns whether IC/OOC flips start a new scene
func (c *Configuration) GetSceneSplitOnClassification() bool {
	return c.viper.GetBool("scene.split_on_classification")
}

// GetSceneSummaryStrategy returns the configured summary strategy name
func (c *Configuration) GetSceneSummaryStrategy() string {
	return c.viper.GetString("scene.summary_strategy")
}

// GetCheckpointDir returns the directory holding the checkpoint database and blobs
func (c *Configuration) GetCheckpointDir() string {
	return c.viper.GetString("checkpoint.dir")
}

// GetCheckpointBlobThresholdBytes returns the payload size above which checkpoints
// spill to sidecar blob files
func (c *Configuration) GetCheckpointBlobThresholdBytes() int {
	return c.viper.GetInt("checkpoint.blob_threshold_bytes")
}

// GetOutputDir returns the directory output artifacts are written to
func (c *Configuration) GetOutputDir() string {
	return c.viper.GetString("output.dir")
}

// GetWorkDir returns the scratch directory for converted audio and chunk files
func (c *Configuration) GetWorkDir() string {
	return c.viper.GetString("output.work_dir")
}

// GetSnippetExportEnabled returns whether per-segment audio snippets are exported
func (c *Configuration) GetSnippetExportEnabled() bool {
	return c.viper.GetBool("snippet.enabled")
}

// GetSnippetICOnly returns whether snippet export is limited to in-character segments
func (c *Configuration) GetSnippetICOnly() bool {
	return c.viper.GetBool("snippet.ic_only")
}

// GetCharacterNames returns the known character names for the campaign
func (c *Configuration) GetCharacterNames() []string {
	return c.viper.GetStringSlice("session.character_names")
}

// GetPlayerNames returns the known player names for the campaign
func (c *Configuration) GetPlayerNames() []string {
	return c.viper.GetStringSlice("session.player_names")
}

// GetDebugMode returns whether verbose debug logging is enabled
func (c *Configuration) GetDebugMode() bool {
	return c.viper.GetBool("debug.enabled")
}
