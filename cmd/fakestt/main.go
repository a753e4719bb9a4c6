// Command fakestt is a local Whisper-compatible transcription endpoint for
// development. It accepts the multipart upload the service sends and answers
// with a fixed transcript.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type handler struct {
	text   string
	delay  time.Duration
	logger *slog.Logger
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int("audio_size", len(audioData)),
		slog.String("model", r.FormValue("model")),
		slog.String("language", r.FormValue("language")),
	)

	// Simulate processing time
	time.Sleep(h.delay)

	response := transcriptionResponse{
		Language: r.FormValue("language"),
		// 16-bit mono PCM at 16 kHz after the 44 byte WAV header
		Duration: float64(max(len(audioData)-44, 0)) / 32000,
	}
	// An upload with no samples has nothing to say
	if response.Duration > 0 {
		response.Text = h.text
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	text := flag.String("text", "This is a test transcription.", "Transcript returned for every upload")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.Handle("/v1/audio/transcriptions", &handler{text: *text, delay: *delay, logger: logger})

	logger.Info("Fake transcription server starting",
		slog.String("addr", *addr),
		slog.String("endpoint", "/v1/audio/transcriptions"),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
