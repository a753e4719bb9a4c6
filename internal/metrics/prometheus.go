package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsInitiated prometheus.Counter
	SessionsFinalized prometheus.Counter
	TurnsHandled      prometheus.Counter
	TurnFallbacks     *prometheus.CounterVec
	TurnDuration      prometheus.Histogram

	// LLM metrics
	LLMRequests *prometheus.CounterVec
	LLMDuration prometheus.Histogram

	// Speech gate metrics
	VADRecordings     prometheus.Counter
	VADSpeechRejected prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionNoSpeech  prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Synthesis metrics
	TTSRequests prometheus.Counter
	TTSFailures prometheus.Counter

	// Audio pipeline metrics
	TranscodeFailures     prometheus.Counter
	ConcatenationFailures prometheus.Counter

	// Archival metrics
	ArchiveJobsSubmitted prometheus.Counter
	ArchiveJobsRejected  prometheus.Counter
	ArchiveJobs          *prometheus.CounterVec
	ArchiveDuration      prometheus.Histogram
	ArchiveQueueDepth    prometheus.Gauge
	FactsPersisted       prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsInitiated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_initiated_total",
			Help: "Total number of conversation sessions initiated",
		}),
		SessionsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_finalized_total",
			Help: "Total number of conversation sessions finalized",
		}),
		TurnsHandled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_turns_total",
			Help: "Total number of conversation turns handled",
		}),
		TurnFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_turn_fallbacks_total",
			Help: "Total number of fallback replies or texts used, by stage",
		}, []string{"stage"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_turn_duration_seconds",
			Help:    "End-to-end duration of a conversation turn",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),

		// LLM metrics
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_llm_requests_total",
			Help: "Total number of chat completion requests, by outcome",
		}, []string{"outcome"}),
		LLMDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_llm_request_duration_seconds",
			Help:    "Duration of chat completion requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),

		// Speech gate metrics
		VADRecordings: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_recordings_total",
			Help: "Total number of recordings analyzed by the speech gate",
		}),
		VADSpeechRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_rejected_total",
			Help: "Total number of recordings rejected as containing no speech",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionNoSpeech: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_no_speech_total",
			Help: "Total number of transcriptions that returned no text",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Synthesis metrics
		TTSRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_tts_requests_total",
			Help: "Total number of speech synthesis requests",
		}),
		TTSFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_tts_failures_total",
			Help: "Total number of failed speech synthesis requests",
		}),

		// Audio pipeline metrics
		TranscodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcode_failures_total",
			Help: "Total number of audio normalization failures",
		}),
		ConcatenationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_concatenation_failures_total",
			Help: "Total number of session recording merge failures",
		}),

		// Archival metrics
		ArchiveJobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_archive_jobs_submitted_total",
			Help: "Total number of archival jobs accepted by the queue",
		}),
		ArchiveJobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_archive_jobs_rejected_total",
			Help: "Total number of archival jobs rejected by the queue",
		}),
		ArchiveJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_archive_jobs_total",
			Help: "Total number of archival jobs processed, by outcome",
		}, []string{"outcome"}),
		ArchiveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_archive_duration_seconds",
			Help:    "Duration of archival jobs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4 minutes
		}),
		ArchiveQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_archive_queue_depth",
			Help: "Current number of archival jobs waiting in the queue",
		}),
		FactsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_facts_persisted_total",
			Help: "Total number of encrypted user records written",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionInitiated increments the sessions initiated counter
func (m *Metrics) RecordSessionInitiated() {
	if m == nil {
		return
	}
	m.SessionsInitiated.Inc()
}

// RecordSessionFinalized increments the sessions finalized counter
func (m *Metrics) RecordSessionFinalized() {
	if m == nil {
		return
	}
	m.SessionsFinalized.Inc()
}

// RecordTurn records a completed conversation turn
func (m *Metrics) RecordTurn(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnsHandled.Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordFallback records a degraded turn stage (stt, llm, tts, greeting)
func (m *Metrics) RecordFallback(stage string) {
	if m == nil {
		return
	}
	m.TurnFallbacks.WithLabelValues(stage).Inc()
}

// RecordLLMRequest records a chat completion request
func (m *Metrics) RecordLLMRequest(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.LLMRequests.WithLabelValues(outcome).Inc()
	m.LLMDuration.Observe(durationSeconds)
}

// RecordVADDecision records a speech gate verdict
func (m *Metrics) RecordVADDecision(hasSpeech bool) {
	if m == nil {
		return
	}
	m.VADRecordings.Inc()
	if !hasSpeech {
		m.VADSpeechRejected.Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionNoSpeech records a transcription with no recognized text
func (m *Metrics) RecordTranscriptionNoSpeech(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionNoSpeech.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordTTS records a speech synthesis request
func (m *Metrics) RecordTTS(success bool) {
	if m == nil {
		return
	}
	m.TTSRequests.Inc()
	if !success {
		m.TTSFailures.Inc()
	}
}

// RecordTranscodeFailure increments the transcode failures counter
func (m *Metrics) RecordTranscodeFailure() {
	if m == nil {
		return
	}
	m.TranscodeFailures.Inc()
}

// RecordConcatenationFailure increments the merge failures counter
func (m *Metrics) RecordConcatenationFailure() {
	if m == nil {
		return
	}
	m.ConcatenationFailures.Inc()
}

// RecordArchiveSubmitted records a queue admission decision
func (m *Metrics) RecordArchiveSubmitted(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.ArchiveJobsSubmitted.Inc()
	} else {
		m.ArchiveJobsRejected.Inc()
	}
}

// RecordArchiveJob records a processed archival job
func (m *Metrics) RecordArchiveJob(outcome string, durationSeconds float64, persisted bool) {
	if m == nil {
		return
	}
	m.ArchiveJobs.WithLabelValues(outcome).Inc()
	m.ArchiveDuration.Observe(durationSeconds)
	if persisted {
		m.FactsPersisted.Inc()
	}
}

// SetArchiveQueueDepth sets the current archival queue depth
func (m *Metrics) SetArchiveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.ArchiveQueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
