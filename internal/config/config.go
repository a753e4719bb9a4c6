package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	LLM           LLMConfig           `yaml:"llm"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	TTS           TTSConfig           `yaml:"tts"`
	Crypto        CryptoConfig        `yaml:"crypto"`
	Store         StoreConfig         `yaml:"store"`
	Session       SessionConfig       `yaml:"session"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
	SecureCookies   bool   `yaml:"secure_cookies"`
}

// AudioConfig contains audio normalization and archive layout parameters
type AudioConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path"`
	LogDir        string `yaml:"log_dir"`
	SilenceDir    string `yaml:"silence_dir"`
	TempDir       string `yaml:"temp_dir"`
	FFmpegTimeout int    `yaml:"ffmpeg_timeout"` // seconds
	SilenceGapMs  int    `yaml:"silence_gap_ms"` // pause between merged segments
	UploadFormat  string `yaml:"upload_format"`  // container hint when the client sends none
}

// VADConfig contains speech gate configuration
type VADConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Threshold         float32 `yaml:"threshold"`
	WindowSize        int     `yaml:"window_size"`         // samples
	MinSpeechDuration float64 `yaml:"min_speech_duration"` // seconds
}

// LLMConfig contains chat completion configuration
type LLMConfig struct {
	BaseURL                string  `yaml:"base_url"`
	APIKey                 string  `yaml:"api_key"`
	Model                  string  `yaml:"model"`
	Timeout                int     `yaml:"timeout"` // seconds
	MaxRetries             int     `yaml:"max_retries"`
	Temperature            float64 `yaml:"temperature"`
	ExtractionTimeout      int     `yaml:"extraction_timeout"` // seconds, per fact query
	ConversationPromptFile string  `yaml:"conversation_prompt_file"`
	ExtractionPromptFile   string  `yaml:"extraction_prompt_file"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// TTSConfig contains speech synthesis configuration
type TTSConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
	Format  string `yaml:"format"`
	Timeout int    `yaml:"timeout"` // seconds
}

// CryptoConfig locates the record encryption key
type CryptoConfig struct {
	KeyFile string `yaml:"key_file"`
}

// StoreConfig selects the persistent record backend
type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory, badger or postgres
	BadgerDir   string `yaml:"badger_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int32  `yaml:"max_conns"`
}

// SessionConfig selects the live session backend
type SessionConfig struct {
	Store           string `yaml:"store"` // memory or redis
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	KeyPrefix       string `yaml:"key_prefix"`
	TTL             int    `yaml:"ttl"`              // seconds
	CleanupInterval int    `yaml:"cleanup_interval"` // seconds
}

// ArchiveConfig sizes the background archival pool
type ArchiveConfig struct {
	Workers      int `yaml:"workers"`
	QueueSize    int `yaml:"queue_size"`
	JobTimeout   int `yaml:"job_timeout"`   // seconds
	DrainTimeout int `yaml:"drain_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. A .env file next to the
// working directory is loaded first and ${VAR} references in the YAML are
// expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML configuration, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ReadPrompt returns the trimmed contents of a prompt file. An empty path, a
// missing or unreadable file, or a blank file yields fallback and false.
func ReadPrompt(path, fallback string) (string, bool) {
	if path == "" {
		return fallback, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback, false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fallback, false
	}
	return text, true
}

// Default returns the configuration used for every field the file omits
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			Address:         "0.0.0.0",
			MaxUploadMB:     25,
			ShutdownTimeout: 10,
		},
		Audio: AudioConfig{
			FFmpegPath:    "ffmpeg",
			LogDir:        "./audio_logs",
			FFmpegTimeout: 120,
			SilenceGapMs:  500,
			UploadFormat:  "webm",
		},
		VAD: VADConfig{
			Enabled:           false,
			Threshold:         0.02,
			WindowSize:        512,
			MinSpeechDuration: 0.1,
		},
		LLM: LLMConfig{
			BaseURL:           "http://localhost:11434/v1",
			APIKey:            "local",
			Model:             "gemma3",
			Timeout:           60,
			MaxRetries:        0,
			Temperature:       0.7,
			ExtractionTimeout: 60,
		},
		Transcription: TranscriptionConfig{
			Model:         "whisper-1",
			Language:      "en",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 8,
		},
		TTS: TTSConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "tts-1",
			Voice:   "alloy",
			Format:  "mp3",
			Timeout: 30,
		},
		Crypto: CryptoConfig{
			KeyFile: "./data/secret.key",
		},
		Store: StoreConfig{
			Driver:    "badger",
			BadgerDir: "./data/records",
			MaxConns:  8,
		},
		Session: SessionConfig{
			Store:           "memory",
			KeyPrefix:       "voice:session:",
			TTL:             1800,
			CleanupInterval: 60,
		},
		Archive: ArchiveConfig{
			Workers:      2,
			QueueSize:    64,
			JobTimeout:   600,
			DrainTimeout: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Crypto.Validate(); err != nil {
		return fmt.Errorf("crypto config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	if h.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", h.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.LogDir == "" {
		return fmt.Errorf("log_dir cannot be empty")
	}

	if a.FFmpegTimeout < 1 {
		return fmt.Errorf("ffmpeg_timeout must be at least 1 second, got %d", a.FFmpegTimeout)
	}

	if a.SilenceGapMs < 1 {
		return fmt.Errorf("silence_gap_ms must be positive, got %d", a.SilenceGapMs)
	}

	return nil
}

// Validate validates speech gate configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 (exclusive) and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 64 || v.WindowSize > 16000 {
		return fmt.Errorf("window_size must be between 64 and 16000 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechDuration < 0 {
		return fmt.Errorf("min_speech_duration cannot be negative, got %f", v.MinSpeechDuration)
	}

	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	if l.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	if l.ExtractionTimeout < 1 {
		return fmt.Errorf("extraction_timeout must be at least 1 second, got %d", l.ExtractionTimeout)
	}

	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", l.MaxRetries)
	}

	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates speech synthesis configuration
func (t *TTSConfig) Validate() error {
	if t.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	validFormats := map[string]bool{"mp3": true, "wav": true, "opus": true, "aac": true, "flac": true, "pcm": true}
	if !validFormats[t.Format] {
		return fmt.Errorf("format must be one of [mp3, wav, opus, aac, flac, pcm], got '%s'", t.Format)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates crypto configuration
func (c *CryptoConfig) Validate() error {
	if c.KeyFile == "" {
		return fmt.Errorf("key_file cannot be empty")
	}
	return nil
}

// Validate validates record store configuration
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "memory":
	case "badger":
		if s.BadgerDir == "" {
			return fmt.Errorf("badger_dir cannot be empty for the badger driver")
		}
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn cannot be empty for the postgres driver")
		}
		if s.MaxConns < 1 {
			return fmt.Errorf("max_conns must be at least 1, got %d", s.MaxConns)
		}
	default:
		return fmt.Errorf("driver must be one of [memory, badger, postgres], got '%s'", s.Driver)
	}
	return nil
}

// Validate validates session store configuration
func (s *SessionConfig) Validate() error {
	switch s.Store {
	case "memory":
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("redis_addr cannot be empty for the redis store")
		}
	default:
		return fmt.Errorf("store must be 'memory' or 'redis', got '%s'", s.Store)
	}

	if s.TTL < 1 {
		return fmt.Errorf("ttl must be at least 1 second, got %d", s.TTL)
	}

	if s.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates archival pool configuration
func (a *ArchiveConfig) Validate() error {
	if a.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", a.Workers)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	if a.JobTimeout < 1 {
		return fmt.Errorf("job_timeout must be at least 1 second, got %d", a.JobTimeout)
	}

	if a.DrainTimeout < 1 {
		return fmt.Errorf("drain_timeout must be at least 1 second, got %d", a.DrainTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetShutdownTimeoutDuration returns the graceful shutdown timeout
func (h *HTTPConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetFFmpegTimeoutDuration returns the per-invocation ffmpeg timeout
func (a *AudioConfig) GetFFmpegTimeoutDuration() time.Duration {
	return time.Duration(a.FFmpegTimeout) * time.Second
}

// GetSilenceGapDuration returns the pause inserted between merged segments
func (a *AudioConfig) GetSilenceGapDuration() time.Duration {
	return time.Duration(a.SilenceGapMs) * time.Millisecond
}

// GetMinSpeechDuration returns the minimum voiced duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetTimeoutDuration returns the chat completion timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// GetExtractionTimeoutDuration returns the per-query extraction timeout
func (l *LLMConfig) GetExtractionTimeoutDuration() time.Duration {
	return time.Duration(l.ExtractionTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTTLDuration returns the live session lifetime
func (s *SessionConfig) GetTTLDuration() time.Duration {
	return time.Duration(s.TTL) * time.Second
}

// GetCleanupIntervalDuration returns the in-memory expiry sweep interval
func (s *SessionConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

// GetJobTimeoutDuration returns the per-job archival deadline
func (a *ArchiveConfig) GetJobTimeoutDuration() time.Duration {
	return time.Duration(a.JobTimeout) * time.Second
}

// GetDrainTimeoutDuration returns how long shutdown waits for queued jobs
func (a *ArchiveConfig) GetDrainTimeoutDuration() time.Duration {
	return time.Duration(a.DrainTimeout) * time.Second
}
