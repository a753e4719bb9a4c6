package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-archive-service/internal/audio"
	"github.com/skypro1111/voice-archive-service/internal/config"
	"github.com/skypro1111/voice-archive-service/internal/conversation"
	"github.com/skypro1111/voice-archive-service/internal/metrics"
)

const (
	// SessionCookie carries the opaque session key
	SessionCookie = "voice_session"

	// Headers set by the upstream authenticator
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"

	replyAudioPrefix = "/reply_audio/"
	serviceName      = "voice-archive-service"
	serviceVersion   = "1.0.0"
)

// Conversations is the session engine behind the API
type Conversations interface {
	Initiate(ctx context.Context, key string, user conversation.User) (*conversation.Reply, error)
	Turn(ctx context.Context, key string, user conversation.User, audioData []byte, formatHint string) (*conversation.Reply, error)
	Finalize(ctx context.Context, key string, user conversation.User) (string, error)
	Stats() conversation.Stats
}

// ReplyResolver maps a reply audio file name to a readable path
type ReplyResolver interface {
	ResolveReply(name string) (string, error)
}

// HTTPServer serves the conversation API plus monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	conv    Conversations
	replies ReplyResolver
	metrics *metrics.Metrics

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	stats     map[string]func() interface{}
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config,
	conv Conversations, replies ReplyResolver, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		conv:      conv,
		replies:   replies,
		metrics:   m,
		startTime: time.Now(),
		stats:     make(map[string]func() interface{}),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// RegisterStats adds a component to the /stats and /health output
func (h *HTTPServer) RegisterStats(name string, fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats[name] = fn
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Conversation endpoints
	mux.HandleFunc("/initiate", h.withMetrics("/initiate", h.handleInitiate))
	mux.HandleFunc("/speech", h.withMetrics("/speech", h.handleSpeech))
	mux.HandleFunc("/cleanup", h.withMetrics("/cleanup", h.handleCleanup))
	mux.HandleFunc(replyAudioPrefix, h.withMetrics("/reply_audio/{filename}", h.handleReplyAudio))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// authenticatedUser reads the identity supplied by the upstream authenticator
func authenticatedUser(r *http.Request) (conversation.User, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return conversation.User{}, false
	}
	name := strings.TrimSpace(r.Header.Get(HeaderUsername))
	if name == "" {
		name = id
	}
	return conversation.User{ID: id, Name: name}, true
}

// sessionKey returns the caller's session key, issuing a new cookie on first
// contact
func (h *HTTPServer) sessionKey(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	key := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.HTTP.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return key
}

// replyAudioURL maps a segment path to its download URL
func replyAudioURL(path string) string {
	if path == "" {
		return ""
	}
	return replyAudioPrefix + filepath.Base(path)
}

// handleInitiate implements the /initiate endpoint
func (h *HTTPServer) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, ok := authenticatedUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	key := h.sessionKey(w, r)

	reply, err := h.conv.Initiate(r.Context(), key, user)
	if err != nil {
		h.logger.Error("Initiate failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reply_text":      reply.ReplyText,
		"reply_audio_url": replyAudioURL(reply.ReplyAudio),
	})
}

// handleSpeech implements the /speech endpoint
func (h *HTTPServer) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, ok := authenticatedUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	key := h.sessionKey(w, r)

	maxBytes := h.config.HTTP.GetMaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file found")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file found")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}

	reply, err := h.conv.Turn(r.Context(), key, user, data, formatHint(header, h.config.Audio.UploadFormat))
	switch {
	case errors.Is(err, conversation.ErrNotInitiated):
		writeError(w, http.StatusConflict, "Conversation not initiated")
		return
	case errors.Is(err, conversation.ErrSessionOwner):
		writeError(w, http.StatusForbidden, "Session belongs to another user")
		return
	case errors.Is(err, audio.ErrTranscode):
		writeError(w, http.StatusInternalServerError, "Failed to process audio")
		return
	case err != nil:
		h.logger.Error("Turn failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_text":       reply.UserText,
		"reply_text":      reply.ReplyText,
		"reply_audio_url": replyAudioURL(reply.ReplyAudio),
	})
}

// formatHint guesses the upload container from the file name or content type
func formatHint(header *multipart.FileHeader, fallback string) string {
	if ext := strings.TrimPrefix(filepath.Ext(header.Filename), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if ct := header.Header.Get("Content-Type"); ct != "" {
		if _, sub, ok := strings.Cut(ct, "/"); ok {
			sub, _, _ = strings.Cut(sub, ";")
			return strings.ToLower(strings.TrimSpace(sub))
		}
	}
	return fallback
}

// handleCleanup implements the /cleanup endpoint
func (h *HTTPServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, ok := authenticatedUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	c, err := r.Cookie(SessionCookie)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "No active session"})
		return
	}

	// Archival must outlive the request
	jobID, err := h.conv.Finalize(context.WithoutCancel(r.Context()), c.Value, user)
	if errors.Is(err, conversation.ErrSessionOwner) {
		writeError(w, http.StatusForbidden, "Session belongs to another user")
		return
	}
	if err != nil {
		h.logger.Error("Finalize failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "Session cleared, archival unavailable"})
		return
	}

	status := "Session cleared"
	if jobID != "" {
		status = "Cleanup and processing started"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status, "job_id": jobID})
}

// handleReplyAudio implements the /reply_audio/{filename} endpoint
func (h *HTTPServer) handleReplyAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, replyAudioPrefix)
	if !audio.SafeName(name) {
		writeError(w, http.StatusBadRequest, "Invalid file name")
		return
	}

	path, err := h.replies.ResolveReply(name)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file name")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	components := map[string]interface{}{
		"conversation": map[string]interface{}{"status": "running"},
	}
	h.mu.RLock()
	for name := range h.stats {
		components[name] = map[string]interface{}{"status": "running"}
	}
	h.mu.RUnlock()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := map[string]interface{}{
		"uptime":       time.Since(h.startTime).String(),
		"timestamp":    time.Now().UTC(),
		"conversation": h.conv.Stats(),
	}

	h.mu.RLock()
	for name, fn := range h.stats {
		stats[name] = fn()
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.mu.RLock()
	components := make([]string, 0, len(h.stats))
	for name := range h.stats {
		components = append(components, name)
	}
	h.mu.RUnlock()
	sort.Strings(components)

	apiDoc := map[string]interface{}{
		"service": "Voice Conversation & Archival Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"POST /initiate":              "Start a conversation and get the greeting",
			"POST /speech":                "Send one recorded turn (multipart field 'audio')",
			"POST /cleanup":               "End the conversation and archive it",
			"GET /reply_audio/{filename}": "Download reply audio",
			"GET /health":                 "Service health check",
			"GET /stats":                  "Get service statistics",
			"GET /metrics":                "Prometheus metrics",
		},
		"components": components,
		"timestamp":  time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
