package facts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/voice-archive-service/internal/llm"
)

const (
	DefaultPrompt  = "You are an expert data extractor. From the conversation history, extract only the specific information requested. Output 'None' if the information is not present."
	DefaultTimeout = 60 * time.Second
)

// Query asks the model for one fact
type Query struct {
	Key      string
	Question string
}

// DefaultQueries are the facts collected from every conversation
var DefaultQueries = []Query{
	{Key: KeyName, Question: "What is the full name of the user?"},
	{Key: KeyPhone, Question: "What is the mobile number of the user?"},
	{Key: KeyHSCMarks, Question: "What are the HSC/12th percentage of the user?"},
	{Key: KeyJEEPercentile, Question: "What is the JEE Percentile of the user?"},
}

// Extractor pulls structured facts out of a conversation transcript
type Extractor struct {
	completer llm.Completer
	prompt    string
	queries   []Query
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExtractor creates an extractor. An empty prompt selects DefaultPrompt
// and a nil queries slice selects DefaultQueries.
func NewExtractor(completer llm.Completer, prompt string, queries []Query, timeout time.Duration, logger *slog.Logger) *Extractor {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	if queries == nil {
		queries = DefaultQueries
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Extractor{
		completer: completer,
		prompt:    prompt,
		queries:   queries,
		timeout:   timeout,
		logger:    logger,
	}
}

// Extract runs one query per fact in parallel. Each query sees the
// extraction prompt, the full transcript and its own question. A failed or
// timed out query yields MissToken for its key, so every key is present.
func (e *Extractor) Extract(ctx context.Context, transcript []llm.Message) Facts {
	answers := make([]string, len(e.queries))

	var g errgroup.Group
	for i, q := range e.queries {
		g.Go(func() error {
			answers[i] = e.ask(ctx, transcript, q)
			return nil
		})
	}
	g.Wait()

	out := make(Facts, len(e.queries))
	for i, q := range e.queries {
		out[q.Key] = answers[i]
	}
	return out
}

func (e *Extractor) ask(ctx context.Context, transcript []llm.Message, q Query) string {
	messages := make([]llm.Message, 0, len(transcript)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: e.prompt})
	messages = append(messages, transcript...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: q.Question})

	answer, err := e.completer.Complete(ctx, messages, llm.WithTemperature(0), llm.WithTimeout(e.timeout))
	if err != nil {
		e.logger.Warn("Fact extraction query failed",
			slog.String("fact", q.Key),
			slog.String("error", err.Error()),
		)
		return MissToken
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return MissToken
	}
	return answer
}
