package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/skypro1111/voice-archive-service/internal/archive"
	"github.com/skypro1111/voice-archive-service/internal/audio"
	"github.com/skypro1111/voice-archive-service/internal/config"
	"github.com/skypro1111/voice-archive-service/internal/conversation"
	"github.com/skypro1111/voice-archive-service/internal/cryptostore"
	"github.com/skypro1111/voice-archive-service/internal/facts"
	"github.com/skypro1111/voice-archive-service/internal/llm"
	"github.com/skypro1111/voice-archive-service/internal/metrics"
	"github.com/skypro1111/voice-archive-service/internal/records"
	"github.com/skypro1111/voice-archive-service/internal/server"
	"github.com/skypro1111/voice-archive-service/internal/session"
	"github.com/skypro1111/voice-archive-service/internal/transcription"
	"github.com/skypro1111/voice-archive-service/internal/tts"
	"github.com/skypro1111/voice-archive-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-archive-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("audio_log_dir", cfg.Audio.LogDir),
		slog.String("llm_base_url", cfg.LLM.BaseURL),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("record_store", cfg.Store.Driver),
		slog.String("session_store", cfg.Session.Store),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.Int("archive_workers", cfg.Archive.Workers),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Encryption key must exist before anything is encrypted
	key, err := cryptostore.LoadOrCreateKey(cfg.Crypto.KeyFile)
	if err != nil {
		logger.Error("Failed to load encryption key", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cipher, err := cryptostore.New(key)
	if err != nil {
		logger.Error("Failed to create cipher", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Encryption key loaded", slog.String("key_file", cfg.Crypto.KeyFile))

	codec, err := audio.NewCodec(audio.CodecConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		LogDir:     cfg.Audio.LogDir,
		SilenceDir: cfg.Audio.SilenceDir,
		TempDir:    cfg.Audio.TempDir,
		Timeout:    cfg.Audio.GetFFmpegTimeoutDuration(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create audio codec", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var gate conversation.SpeechGate
	var vadProcessor *vad.Processor
	if cfg.VAD.Enabled {
		vadProcessor, err = vad.NewProcessor(cfg.VAD.Threshold, cfg.VAD.WindowSize, audio.SampleRate, cfg.VAD.GetMinSpeechDuration())
		if err != nil {
			logger.Error("Failed to create speech gate", slog.String("error", err.Error()))
			os.Exit(1)
		}
		gate = vadProcessor
		logger.Info("Speech gate enabled",
			slog.Float64("threshold", float64(cfg.VAD.Threshold)),
			slog.Int("window_size", vadProcessor.GetWindowSize()),
		)
	}

	sttClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Language:      cfg.Transcription.Language,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.GetTimeoutDuration(),
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger, appMetrics)

	ttsClient := tts.NewClient(tts.Config{
		BaseURL: cfg.TTS.BaseURL,
		APIKey:  cfg.TTS.APIKey,
		Model:   cfg.TTS.Model,
		Voice:   cfg.TTS.Voice,
		Format:  cfg.TTS.Format,
		Timeout: cfg.TTS.GetTimeoutDuration(),
	}, logger, appMetrics)

	// Idle sessions swept by the memory store are archived like a cleanup.
	// The store only holds sessions once the HTTP server is up, after
	// orchestrator is assigned.
	var orchestrator *conversation.Orchestrator
	sessions, err := newSessionStore(cfg.Session, logger, func(key string, state *session.State) {
		orchestrator.ArchiveExpired(key, state)
	})
	if err != nil {
		logger.Error("Failed to create session store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	recordStore, err := records.Open(ctx, records.Config{
		Driver:      cfg.Store.Driver,
		BadgerDir:   cfg.Store.BadgerDir,
		PostgresDSN: cfg.Store.PostgresDSN,
		MaxConns:    cfg.Store.MaxConns,
	}, logger)
	if err != nil {
		logger.Error("Failed to open record store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Record store opened", slog.String("driver", cfg.Store.Driver))

	conversationPrompt, loaded := config.ReadPrompt(cfg.LLM.ConversationPromptFile, conversation.DefaultSystemPrompt)
	if cfg.LLM.ConversationPromptFile != "" && !loaded {
		logger.Warn("Conversation prompt file unavailable, using default",
			slog.String("path", cfg.LLM.ConversationPromptFile),
		)
	}
	extractionPrompt, loaded := config.ReadPrompt(cfg.LLM.ExtractionPromptFile, facts.DefaultPrompt)
	if cfg.LLM.ExtractionPromptFile != "" && !loaded {
		logger.Warn("Extraction prompt file unavailable, using default",
			slog.String("path", cfg.LLM.ExtractionPromptFile),
		)
	}

	extractor := facts.NewExtractor(llmClient, extractionPrompt, facts.DefaultQueries,
		cfg.LLM.GetExtractionTimeoutDuration(), logger)

	worker, err := archive.NewWorker(archive.WorkerConfig{
		Merger:     codec,
		Extractor:  extractor,
		Records:    recordStore,
		Cipher:     cipher,
		UserLocks:  session.NewLocker(),
		SilenceGap: cfg.Audio.GetSilenceGapDuration(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create archive worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	queue := archive.NewQueue(archive.QueueConfig{
		Workers:    cfg.Archive.Workers,
		QueueSize:  cfg.Archive.QueueSize,
		JobTimeout: cfg.Archive.GetJobTimeoutDuration(),
	}, worker, logger, appMetrics)

	orchestrator, err = conversation.New(conversation.Dependencies{
		Sessions:    sessions,
		Locks:       session.NewLocker(),
		Audio:       codec,
		Gate:        gate,
		Transcriber: sttClient,
		LLM:         llmClient,
		TTS:         ttsClient,
		Records:     recordStore,
		Cipher:      cipher,
		Archiver:    queue,
	}, conversation.Config{
		SystemPrompt:      conversationPrompt,
		CompletionOptions: []llm.Option{llm.WithTemperature(cfg.LLM.Temperature)},
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create conversation orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(logger, cfg, orchestrator, codec, appMetrics)
	httpServer.RegisterStats("archive", func() interface{} { return queue.GetStats() })
	httpServer.RegisterStats("transcription", func() interface{} { return sttClient.GetStats() })
	httpServer.RegisterStats("llm", func() interface{} { return llmClient.GetStats() })
	if vadProcessor != nil {
		httpServer.RegisterStats("vad", func() interface{} { return vadProcessor.GetStats() })
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeoutDuration())
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Stop the expiry sweep before the queue stops taking jobs
	if err := sessions.Close(); err != nil {
		logger.Error("Error closing session store", slog.String("error", err.Error()))
	}

	// Let queued archival jobs finish
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Archive.GetDrainTimeoutDuration())
	defer drainCancel()
	if err := queue.Stop(drainCtx); err != nil {
		logger.Error("Archive queue did not drain", slog.String("error", err.Error()))
	}

	if err := sttClient.Close(); err != nil {
		logger.Error("Error closing transcription client", slog.String("error", err.Error()))
	}
	if err := recordStore.Close(); err != nil {
		logger.Error("Error closing record store", slog.String("error", err.Error()))
	}

	// Get final statistics
	convStats := orchestrator.Stats()
	queueStats := queue.GetStats()
	logger.Info("Final service statistics",
		slog.Int64("initiations", convStats.Initiations),
		slog.Int64("turns", convStats.Turns),
		slog.Int64("finalizations", convStats.Finalizations),
		slog.Int64("expired_archived", convStats.ExpiredArchived),
		slog.Int64("archive_completed", queueStats.Completed),
		slog.Int64("archive_failed", queueStats.Failed),
	)

	logger.Info("Service stopped")
}

// newSessionStore builds the configured live session store
func newSessionStore(cfg config.SessionConfig, logger *slog.Logger, onExpire session.ExpiryHandler) (session.Store, error) {
	opts := []session.StoreOption{
		session.WithKeyPrefix(cfg.KeyPrefix),
		session.WithTTL(cfg.GetTTLDuration()),
		session.WithCleanupInterval(cfg.GetCleanupIntervalDuration()),
		session.WithExpiryHandler(onExpire),
		session.WithLogger(logger),
	}

	if session.StoreType(cfg.Store) == session.StoreTypeRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		opts = append(opts, session.WithRedisClient(client))
	}

	return session.NewStore(session.StoreType(cfg.Store), opts...)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
