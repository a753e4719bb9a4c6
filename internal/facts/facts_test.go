package facts

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/voice-archive-service/internal/llm"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	answers map[string]string
	fail    map[string]bool
	calls   [][]llm.Message
}

func (s *scriptedCompleter) Complete(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)

	question := messages[len(messages)-1].Content
	if s.fail[question] {
		return "", llm.ErrTransport
	}
	return s.answers[question], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIsMiss(t *testing.T) {
	tests := []struct {
		value string
		miss  bool
	}{
		{"None", true},
		{"none", true},
		{" NONE ", true},
		{"", true},
		{"   ", true},
		{"Asha Rao", false},
		{"Nonexistent Street", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.miss, IsMiss(tt.value), "IsMiss(%q)", tt.value)
	}
}

func TestMergeLaws(t *testing.T) {
	t.Run("new fact is added", func(t *testing.T) {
		merged, changed := Merge(Facts{}, Facts{KeyName: "Asha"})
		assert.True(t, changed)
		assert.Equal(t, Facts{KeyName: "Asha"}, merged)
	})

	t.Run("miss never overwrites", func(t *testing.T) {
		prior := Facts{KeyPhone: "9876543210"}
		merged, changed := Merge(prior, Facts{KeyPhone: "None", KeyName: ""})
		assert.False(t, changed)
		assert.Equal(t, prior, merged)
	})

	t.Run("last write wins", func(t *testing.T) {
		merged, changed := Merge(Facts{KeyHSCMarks: "88%"}, Facts{KeyHSCMarks: "91%"})
		assert.True(t, changed)
		assert.Equal(t, "91%", merged[KeyHSCMarks])
	})

	t.Run("unrelated keys are kept", func(t *testing.T) {
		merged, _ := Merge(Facts{KeyName: "Asha"}, Facts{KeyJEEPercentile: "97.4"})
		assert.Equal(t, Facts{KeyName: "Asha", KeyJEEPercentile: "97.4"}, merged)
	})

	t.Run("same value is not a change", func(t *testing.T) {
		_, changed := Merge(Facts{KeyName: "Asha"}, Facts{KeyName: " Asha "})
		assert.False(t, changed)
	})

	t.Run("merge is idempotent", func(t *testing.T) {
		extracted := Facts{KeyName: "Asha", KeyPhone: "None"}
		once, _ := Merge(Facts{KeyPhone: "123"}, extracted)
		twice, changed := Merge(once, extracted)
		assert.False(t, changed)
		assert.Equal(t, once, twice)
	})

	t.Run("prior is not modified", func(t *testing.T) {
		prior := Facts{KeyName: "Asha"}
		Merge(prior, Facts{KeyName: "Ravi"})
		assert.Equal(t, "Asha", prior[KeyName])
	})

	t.Run("nil prior", func(t *testing.T) {
		merged, changed := Merge(nil, Facts{KeyName: "None"})
		assert.False(t, changed)
		assert.Empty(t, merged)
	})
}

func TestFactsHelpers(t *testing.T) {
	f := Facts{KeyPhone: "123", KeyName: "Asha", KeyHSCMarks: "none"}
	assert.Equal(t, Facts{KeyPhone: "123", KeyName: "Asha"}, f.Clean())
	assert.Equal(t, []string{KeyHSCMarks, KeyName, KeyPhone}, f.Keys())
	assert.Equal(t, "name: Asha, phone: 123", f.Clean().String())
}

func TestExtract(t *testing.T) {
	completer := &scriptedCompleter{
		answers: map[string]string{
			"What is the full name of the user?":            "Asha Rao",
			"What is the mobile number of the user?":        "None",
			"What are the HSC/12th percentage of the user?": " 91% ",
			"What is the JEE Percentile of the user?":       "",
		},
	}
	extractor := NewExtractor(completer, "", nil, time.Second, testLogger())

	transcript := []llm.Message{
		{Role: llm.RoleAssistant, Content: "Hi, how may I help you today?"},
		{Role: llm.RoleUser, Content: "I'm Asha Rao and I scored 91% in HSC"},
	}

	got := extractor.Extract(context.Background(), transcript)

	assert.Equal(t, Facts{
		KeyName:          "Asha Rao",
		KeyPhone:         "None",
		KeyHSCMarks:      "91%",
		KeyJEEPercentile: "None",
	}, got)

	require.Len(t, completer.calls, 4)
	for _, call := range completer.calls {
		require.Len(t, call, 4)
		assert.Equal(t, llm.RoleSystem, call[0].Role)
		assert.Equal(t, DefaultPrompt, call[0].Content)
		assert.Equal(t, transcript, call[1:3])
		assert.Equal(t, llm.RoleUser, call[3].Role)
	}
}

func TestExtractDegradesFailedQueries(t *testing.T) {
	completer := &scriptedCompleter{
		answers: map[string]string{"What is the full name of the user?": "Asha"},
		fail:    map[string]bool{"What is the mobile number of the user?": true},
	}
	extractor := NewExtractor(completer, "custom prompt", nil, time.Second, testLogger())

	got := extractor.Extract(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	assert.Equal(t, "Asha", got[KeyName])
	assert.Equal(t, MissToken, got[KeyPhone])
	assert.Len(t, got, 4)
	assert.Equal(t, "custom prompt", completer.calls[0][0].Content)
}

func TestExtractCustomQueries(t *testing.T) {
	completer := &scriptedCompleter{answers: map[string]string{"City?": "Pune"}}
	extractor := NewExtractor(completer, "", []Query{{Key: "city", Question: "City?"}}, 0, testLogger())

	got := extractor.Extract(context.Background(), nil)
	assert.Equal(t, Facts{"city": "Pune"}, got)
}
