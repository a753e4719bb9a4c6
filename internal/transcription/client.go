package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/voice-archive-service/internal/metrics"
)

var (
	// ErrNoSpeech is returned when the service found nothing to transcribe
	ErrNoSpeech = errors.New("no speech recognized")

	// ErrServiceUnavailable is returned when the service could not be reached
	// or kept failing after all retries
	ErrServiceUnavailable = errors.New("speech recognition service unavailable")
)

// Transcriber converts a normalized WAV file to text
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Client uploads normalized recordings to a Whisper-compatible
// /audio/transcriptions endpoint. Concurrent uploads are capped by a
// semaphore; 5xx, 429 and network failures are retried with backoff.
type Client struct {
	config     Config
	httpClient *http.Client
	slots      chan struct{}
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu    sync.RWMutex
	stats ClientStats
}

// Config contains transcription client configuration
type Config struct {
	Endpoint      string // Whisper-compatible /audio/transcriptions URL
	APIKey        string
	Model         string
	Language      string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // base delay, doubled per attempt
}

// recognition is the JSON body returned for response_format=json
type recognition struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	NoSpeech        uint64        `json:"no_speech"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type outcome int

const (
	outcomeText outcome = iota
	outcomeNoSpeech
	outcomeFailed
)

const maxBackoff = 30 * time.Second

// statusError is a non-2xx response from the service
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("transcription service returned %d: %s", e.code, e.body)
}

// NewClient creates a transcription client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: config.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		slots:      make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Transcribe sends a WAV file for transcription. Blank text yields
// ErrNoSpeech; transport failures and exhausted retries yield
// ErrServiceUnavailable.
func (c *Client) Transcribe(ctx context.Context, wavPath string) (string, error) {
	audioData, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read audio: %w", ErrServiceUnavailable, err)
	}

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrServiceUnavailable, ctx.Err())
	}

	started := time.Now()
	c.metrics.RecordTranscriptionRequest()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.countRetry()
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				c.observe(outcomeFailed, started)
				return "", fmt.Errorf("%w: %w", ErrServiceUnavailable, ctx.Err())
			}
		}

		result, err := c.upload(ctx, filepath.Base(wavPath), audioData)
		if err == nil {
			text := strings.TrimSpace(result.Text)
			if text == "" {
				c.observe(outcomeNoSpeech, started)
				return "", ErrNoSpeech
			}
			c.observe(outcomeText, started)
			return text, nil
		}

		lastErr = err
		c.logger.Debug("Transcription attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("file", filepath.Base(wavPath)),
			slog.String("error", err.Error()),
		)
		if !retryable(err) {
			break
		}
	}

	c.observe(outcomeFailed, started)
	return "", fmt.Errorf("%w: %w", ErrServiceUnavailable, lastErr)
}

// backoff returns the delay before the given retry attempt (1-based)
func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.RetryBackoff << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// upload performs one multipart POST
func (c *Client) upload(ctx context.Context, filename string, audioData []byte) (*recognition, error) {
	body, contentType, err := c.encodeForm(filename, audioData)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}

	var result recognition
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// encodeForm builds the multipart body: the WAV as "file" plus model,
// response_format and optional language fields
func (c *Client) encodeForm(filename string, audioData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio: %w", err)
	}

	fields := [][2]string{{"model", c.config.Model}, {"response_format", "json"}}
	if c.config.Language != "" {
		fields = append(fields, [2]string{"language", c.config.Language})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, form.FormDataContentType(), nil
}

// retryable reports whether a failed attempt is worth repeating
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) countRetry() {
	c.mu.Lock()
	c.stats.TotalRetries++
	c.mu.Unlock()
	c.metrics.RecordTranscriptionRetry()
}

// observe records the final outcome of one Transcribe call
func (c *Client) observe(o outcome, started time.Time) {
	elapsed := time.Since(started)
	c.tally(o, elapsed)

	switch o {
	case outcomeText:
		c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	case outcomeNoSpeech:
		c.metrics.RecordTranscriptionNoSpeech(elapsed.Seconds())
	case outcomeFailed:
		c.metrics.RecordTranscriptionFailure(elapsed.Seconds())
	}
}

// tally updates the counters. AvgResponseTime is the mean over answered
// requests (text or no speech); failures are excluded.
func (c *Client) tally(o outcome, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	switch o {
	case outcomeText:
		c.stats.SuccessRequests++
	case outcomeNoSpeech:
		c.stats.NoSpeech++
	case outcomeFailed:
		c.stats.FailedRequests++
		return
	}

	answered := time.Duration(c.stats.SuccessRequests + c.stats.NoSpeech)
	c.stats.AvgResponseTime += (elapsed - c.stats.AvgResponseTime) / answered
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	stats := c.stats
	c.mu.RUnlock()

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests+stats.NoSpeech) / float64(stats.TotalRequests) * 100
	}
	stats.ActiveRequests = len(c.slots)
	return stats
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < cap(c.slots); i++ {
		c.slots <- struct{}{}
	}
	return nil
}
