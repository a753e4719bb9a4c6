package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/skypro1111/voice-archive-service/internal/metrics"
)

const (
	DefaultModel   = "gemma3"
	DefaultTimeout = 60 * time.Second
)

// ErrTransport is returned when the model could not produce a reply:
// network failure, timeout, non-2xx status, or an empty choice list
var ErrTransport = errors.New("llm transport failure")

// Role identifies the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat history
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer produces a reply for a chat history
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts ...Option) (string, error)
}

// Config contains chat completion client configuration
type Config struct {
	BaseURL    string // OpenAI-compatible endpoint, e.g. http://localhost:11434/v1/
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type callOptions struct {
	temperature *float64
	timeout     time.Duration
}

// Option customizes a single completion call
type Option func(*callOptions)

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) Option {
	return func(o *callOptions) {
		o.temperature = &t
	}
}

// WithTimeout bounds the call, overriding the client default
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// Client is a chat completion client for OpenAI-compatible servers
type Client struct {
	client  openai.Client
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Statistics
	totalRequests   uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	Model           string        `json:"model"`
	TotalRequests   uint64        `json:"total_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a chat completion client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.APIKey == "" {
		// Local servers ignore the key but the header must be present
		config.APIKey = "local"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
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

// Complete sends the chat history and returns the first choice's content
func (c *Client) Complete(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	call := callOptions{timeout: c.config.Timeout}
	for _, opt := range opts {
		opt(&call)
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.config.Model,
		Messages: toParams(messages),
	}
	if call.temperature != nil {
		params.Temperature = openai.Float(*call.temperature)
	}

	ctx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	duration := time.Since(start)

	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("response contained no choices")
	}

	c.updateStats(err == nil, duration)
	c.metrics.RecordLLMRequest(err == nil, duration.Seconds())

	if err != nil {
		c.logger.Warn("Chat completion failed",
			slog.String("model", c.config.Model),
			slog.Int("messages", len(messages)),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.logger.Debug("Chat completion succeeded",
		slog.String("model", c.config.Model),
		slog.Int("messages", len(messages)),
		slog.Duration("duration", duration),
	)

	return resp.Choices[0].Message.Content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}

// updateStats updates client statistics
func (c *Client) updateStats(success bool, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if !success {
		c.failedRequests++
	}

	// Update average response time (simple moving average)
	if c.totalRequests == 1 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime*time.Duration(c.totalRequests-1) + responseTime) / time.Duration(c.totalRequests)
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		Model:           c.config.Model,
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		AvgResponseTime: c.avgResponseTime,
	}
}
