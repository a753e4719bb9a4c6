package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
transcription:
  endpoint: "http://localhost:9000/v1/audio/transcriptions"
`

func validConfig() *Config {
	c := Default()
	c.Transcription.Endpoint = "http://localhost:9000/v1/audio/transcriptions"
	return c
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "defaults with endpoint",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http config: http port must be between 1 and 65535",
		},
		{
			name:     "missing ffmpeg",
			mutate:   func(c *Config) { c.Audio.FFmpegPath = "" },
			errorMsg: "audio config: ffmpeg_path cannot be empty",
		},
		{
			name: "vad threshold ignored when disabled",
			mutate: func(c *Config) {
				c.VAD.Enabled = false
				c.VAD.Threshold = 5
			},
		},
		{
			name: "invalid vad threshold",
			mutate: func(c *Config) {
				c.VAD.Enabled = true
				c.VAD.Threshold = 1.5
			},
			errorMsg: "vad config: threshold must be between 0 (exclusive) and 1",
		},
		{
			name:     "llm temperature out of range",
			mutate:   func(c *Config) { c.LLM.Temperature = 3 },
			errorMsg: "llm config: temperature",
		},
		{
			name:     "missing transcription endpoint",
			mutate:   func(c *Config) { c.Transcription.Endpoint = "" },
			errorMsg: "transcription config: endpoint cannot be empty",
		},
		{
			name:     "unsupported tts format",
			mutate:   func(c *Config) { c.TTS.Format = "ogg" },
			errorMsg: "tts config: format must be one of",
		},
		{
			name:     "missing key file",
			mutate:   func(c *Config) { c.Crypto.KeyFile = "" },
			errorMsg: "crypto config: key_file cannot be empty",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Store.Driver = "postgres"
			},
			errorMsg: "store config: postgres_dsn cannot be empty",
		},
		{
			name:     "unknown store driver",
			mutate:   func(c *Config) { c.Store.Driver = "sqlite" },
			errorMsg: "store config: driver must be one of",
		},
		{
			name:     "redis sessions without address",
			mutate:   func(c *Config) { c.Session.Store = "redis" },
			errorMsg: "session config: redis_addr cannot be empty",
		},
		{
			name:     "no archive workers",
			mutate:   func(c *Config) { c.Archive.Workers = 0 },
			errorMsg: "archive config: workers must be at least 1",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "logging config: level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing '%s' but got none", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name:       "minimal file keeps defaults",
			configYAML: minimalYAML,
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 8080 {
					t.Errorf("Expected default port 8080, got %d", c.HTTP.Port)
				}
				if c.Store.Driver != "badger" {
					t.Errorf("Expected default driver badger, got %s", c.Store.Driver)
				}
				if c.Audio.SilenceGapMs != 500 {
					t.Errorf("Expected default silence gap 500ms, got %d", c.Audio.SilenceGapMs)
				}
			},
		},
		{
			name: "full file",
			configYAML: `
http:
  port: 9090
  address: "127.0.0.1"
audio:
  log_dir: "/var/lib/voice/audio"
  silence_gap_ms: 250
llm:
  base_url: "http://ollama:11434/v1"
  model: "llama3"
transcription:
  endpoint: "http://whisper:9000/v1/audio/transcriptions"
  max_concurrent: 2
store:
  driver: "postgres"
  postgres_dsn: "postgres://voice@db/voice"
session:
  store: "redis"
  redis_addr: "redis:6379"
archive:
  workers: 4
  queue_size: 10
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 9090 || c.HTTP.Address != "127.0.0.1" {
					t.Errorf("Unexpected http section: %+v", c.HTTP)
				}
				if c.LLM.Model != "llama3" {
					t.Errorf("Expected model llama3, got %s", c.LLM.Model)
				}
				if c.Archive.Workers != 4 || c.Archive.QueueSize != 10 {
					t.Errorf("Unexpected archive section: %+v", c.Archive)
				}
				if c.Session.RedisAddr != "redis:6379" {
					t.Errorf("Expected redis address, got %s", c.Session.RedisAddr)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
http:
  port: 8080
`,
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if tt.check != nil {
				tt.check(t, config)
			}
		})
	}
}

func TestConfigLoadExpandsEnv(t *testing.T) {
	t.Setenv("VOICE_TEST_STT_KEY", "sk-from-env")
	t.Setenv("VOICE_TEST_DSN", "postgres://u:p@db/voice")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlText := `
transcription:
  endpoint: "http://whisper/v1/audio/transcriptions"
  api_key: "${VOICE_TEST_STT_KEY}"
store:
  driver: "postgres"
  postgres_dsn: "${VOICE_TEST_DSN}"
`
	if err := os.WriteFile(configPath, []byte(yamlText), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Transcription.APIKey != "sk-from-env" {
		t.Errorf("Expected expanded api key, got '%s'", config.Transcription.APIKey)
	}
	if config.Store.PostgresDSN != "postgres://u:p@db/voice" {
		t.Errorf("Expected expanded DSN, got '%s'", config.Store.PostgresDSN)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestReadPrompt(t *testing.T) {
	dir := t.TempDir()

	promptPath := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(promptPath, []byte("  You are a counsellor.\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompt: %v", err)
	}
	blankPath := filepath.Join(dir, "blank.txt")
	if err := os.WriteFile(blankPath, []byte("\n\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompt: %v", err)
	}

	tests := []struct {
		name       string
		path       string
		want       string
		wantLoaded bool
	}{
		{"file", promptPath, "You are a counsellor.", true},
		{"no path", "", "fallback", false},
		{"missing file", filepath.Join(dir, "missing.txt"), "fallback", false},
		{"blank file", blankPath, "fallback", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, loaded := ReadPrompt(tt.path, "fallback")
			if got != tt.want || loaded != tt.wantLoaded {
				t.Errorf("ReadPrompt() = (%q, %v), want (%q, %v)", got, loaded, tt.want, tt.wantLoaded)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	c := validConfig()
	c.VAD.MinSpeechDuration = 0.25

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"shutdown", c.HTTP.GetShutdownTimeoutDuration(), 10 * time.Second},
		{"ffmpeg", c.Audio.GetFFmpegTimeoutDuration(), 2 * time.Minute},
		{"silence gap", c.Audio.GetSilenceGapDuration(), 500 * time.Millisecond},
		{"min speech", c.VAD.GetMinSpeechDuration(), 250 * time.Millisecond},
		{"llm", c.LLM.GetTimeoutDuration(), 60 * time.Second},
		{"extraction", c.LLM.GetExtractionTimeoutDuration(), 60 * time.Second},
		{"transcription", c.Transcription.GetTimeoutDuration(), 30 * time.Second},
		{"tts", c.TTS.GetTimeoutDuration(), 30 * time.Second},
		{"session ttl", c.Session.GetTTLDuration(), 30 * time.Minute},
		{"session cleanup", c.Session.GetCleanupIntervalDuration(), time.Minute},
		{"job", c.Archive.GetJobTimeoutDuration(), 10 * time.Minute},
		{"drain", c.Archive.GetDrainTimeoutDuration(), 2 * time.Minute},
	}

	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, tc.got)
		}
	}

	if c.HTTP.GetMaxUploadBytes() != 25<<20 {
		t.Errorf("Expected 25 MiB upload limit, got %d", c.HTTP.GetMaxUploadBytes())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
		},
		{
			name:   "valid text to file",
			config: LoggingConfig{Level: "debug", Format: "text", Output: "/var/log/voice.log"},
			valid:  true,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "empty output",
			config: LoggingConfig{Level: "info", Format: "json"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
