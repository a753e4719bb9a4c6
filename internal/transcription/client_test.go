package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "20240131_142501_000001_user.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfake"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		Endpoint:     server.URL + "/v1/audio/transcriptions",
		APIKey:       "test-key",
		Language:     "en",
		Timeout:      2 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}, testLogger(), nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestTranscribe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Missing bearer token, got %q", r.Header.Get("Authorization"))
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			t.Errorf("Unexpected form fields model=%q language=%q", r.FormValue("model"), r.FormValue("language"))
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "RIFF....WAVEfake" || header.Filename != "20240131_142501_000001_user.wav" {
			t.Errorf("Unexpected upload %s (%d bytes)", header.Filename, len(data))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  my name is Asha  "}`))
	}, 0)

	text, err := client.Transcribe(context.Background(), writeWAV(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "my name is Asha" {
		t.Errorf("Expected trimmed text, got %q", text)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestTranscribeNoSpeech(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"   "}`))
	}, 0)

	_, err := client.Transcribe(context.Background(), writeWAV(t))
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("Expected ErrNoSpeech, got %v", err)
	}
	if client.GetStats().NoSpeech != 1 {
		t.Errorf("Expected no-speech to be counted")
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"hello"}`))
	}, 3)

	text, err := client.Transcribe(context.Background(), writeWAV(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello" {
		t.Errorf("Expected hello, got %q", text)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if client.GetStats().TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", client.GetStats().TotalRetries)
	}
}

func TestTranscribeExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, 2)

	_, err := client.Transcribe(context.Background(), writeWAV(t))
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Expected ErrServiceUnavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if client.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request")
	}
}

func TestTranscribeClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, 3)

	if _, err := client.Transcribe(context.Background(), writeWAV(t)); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Expected ErrServiceUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt for 4xx, got %d", calls.Load())
	}
}

func TestTranscribeUnreachable(t *testing.T) {
	client, err := NewClient(Config{
		Endpoint:     "http://127.0.0.1:1/v1/audio/transcriptions",
		Timeout:      time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), writeWAV(t)); !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Expected ErrServiceUnavailable, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"server error", &statusError{code: 502}, true},
		{"rate limited", &statusError{code: 429}, true},
		{"bad request", &statusError{code: 400}, false},
		{"parse error", errors.New("failed to parse response JSON"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.retryable {
				t.Errorf("Expected %v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost", RetryBackoff: time.Second}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, maxBackoff},
		{80, maxBackoff},
	}
	for _, tt := range tests {
		if got := client.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestAvgResponseTimeIsMeanOfAnswered(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://localhost"}, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	client.tally(outcomeText, 100*time.Millisecond)
	client.tally(outcomeNoSpeech, 200*time.Millisecond)
	client.tally(outcomeFailed, 5*time.Second)
	client.tally(outcomeText, 600*time.Millisecond)

	stats := client.GetStats()
	if stats.AvgResponseTime != 300*time.Millisecond {
		t.Errorf("Expected mean 300ms, got %v", stats.AvgResponseTime)
	}
	if stats.TotalRequests != 4 || stats.FailedRequests != 1 {
		t.Errorf("Unexpected counters: %+v", stats)
	}
	if stats.SuccessRate != 75 {
		t.Errorf("Expected success rate 75, got %f", stats.SuccessRate)
	}
}
