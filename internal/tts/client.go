package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/skypro1111/voice-archive-service/internal/metrics"
)

const (
	DefaultModel   = "tts-1"
	DefaultVoice   = "alloy"
	DefaultFormat  = "mp3"
	DefaultTimeout = 30 * time.Second

	maxAudioBytes = 32 << 20
)

// Synthesizer renders reply text as encoded audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) []byte
	Format() string
}

// Config contains speech synthesis client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Format  string // container returned by the server, used as a transcode hint
	Timeout time.Duration
}

// Client synthesizes speech through an OpenAI-compatible speech endpoint
type Client struct {
	client  openai.Client
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a speech synthesis client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if config.Format == "" {
		config.Format = DefaultFormat
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.APIKey == "" {
		config.APIKey = "local"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		client:  openai.NewClient(opts...),
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Format returns the audio container produced by Synthesize
func (c *Client) Format() string {
	return c.config.Format
}

// Synthesize renders text to audio. Any failure is logged and reported as a
// zero-length result so the caller can continue without reply audio.
func (c *Client) Synthesize(ctx context.Context, text string) []byte {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	data, err := c.synthesize(ctx, text)
	c.metrics.RecordTTS(err == nil && len(data) > 0)
	if err != nil {
		c.logger.Warn("Speech synthesis failed",
			slog.Int("text_length", len(text)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(data) == 0 {
		c.logger.Warn("Speech synthesis returned no audio", slog.Int("text_length", len(text)))
	}
	return data
}

func (c *Client) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.config.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(c.config.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(c.config.Format),
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech request returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	return data, nil
}
