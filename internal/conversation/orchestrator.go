package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-archive-service/internal/archive"
	"github.com/skypro1111/voice-archive-service/internal/cryptostore"
	"github.com/skypro1111/voice-archive-service/internal/facts"
	"github.com/skypro1111/voice-archive-service/internal/llm"
	"github.com/skypro1111/voice-archive-service/internal/metrics"
	"github.com/skypro1111/voice-archive-service/internal/records"
	"github.com/skypro1111/voice-archive-service/internal/session"
	"github.com/skypro1111/voice-archive-service/internal/transcription"
	"github.com/skypro1111/voice-archive-service/internal/tts"
	"github.com/skypro1111/voice-archive-service/internal/vad"
)

var (
	// ErrNotInitiated is returned by Turn when the session has no live state
	ErrNotInitiated = errors.New("conversation not initiated")

	// ErrSessionOwner is returned when the caller is not the user the
	// session was initiated for. The session is left untouched.
	ErrSessionOwner = errors.New("session belongs to another user")
)

// Who tags for segment file names
const (
	originUser = "user"
	originBot  = "bot"
)

// Fallback stages reported to metrics
const (
	stageLLM             = "llm"
	stageRecognitionMiss = "recognition_miss"
	stageRecognitionFail = "recognition_failure"
	stageSpeechGate      = "speech_gate"
	stageSynthesis       = "synthesis"
	stageHistory         = "history"
)

// Normalizer converts uploaded or synthesized audio to a WAV segment
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte, formatHint, who string) (string, error)
}

// SpeechGate decides whether a normalized recording contains speech
type SpeechGate interface {
	AnalyzeFile(path string) (vad.Decision, error)
}

// Archiver accepts finalized sessions for background processing
type Archiver interface {
	Submit(job archive.Job) error
}

// User identifies the authenticated caller
type User struct {
	ID   string
	Name string
}

// Reply is the outcome of Initiate or Turn. ReplyAudio is the path of the
// assistant's WAV segment, empty when no audio was produced.
type Reply struct {
	UserText   string
	ReplyText  string
	ReplyAudio string
}

// Dependencies are the collaborators of an Orchestrator. Gate is optional.
type Dependencies struct {
	Sessions    session.Store
	Locks       *session.Locker
	Audio       Normalizer
	Gate        SpeechGate
	Transcriber transcription.Transcriber
	LLM         llm.Completer
	TTS         tts.Synthesizer
	Records     records.Store
	Cipher      *cryptostore.Cipher
	Archiver    Archiver
}

// Config holds orchestrator settings
type Config struct {
	SystemPrompt string

	// CompletionOptions apply to every greeting and reply completion
	CompletionOptions []llm.Option

	Now func() time.Time
}

// Orchestrator drives the per-session conversation: greeting, voice turns
// and handoff to archival. Operations on one session key are serialized.
type Orchestrator struct {
	deps   Dependencies
	config Config
	logger *slog.Logger

	metrics *metrics.Metrics

	statsMu sync.RWMutex
	stats   Stats
}

// Stats counts orchestrator activity
type Stats struct {
	Initiations         int64 `json:"initiations"`
	Turns               int64 `json:"turns"`
	Finalizations       int64 `json:"finalizations"`
	EmptyFinalizations  int64 `json:"empty_finalizations"`
	ArchiveRejected     int64 `json:"archive_rejected"`
	LLMFallbacks        int64 `json:"llm_fallbacks"`
	RecognitionMisses   int64 `json:"recognition_misses"`
	RecognitionFailures int64 `json:"recognition_failures"`
	SynthesisMisses     int64 `json:"synthesis_misses"`
	TranscodeFailures   int64 `json:"transcode_failures"`
	OwnerMismatches     int64 `json:"owner_mismatches"`
	ExpiredArchived     int64 `json:"expired_archived"`
}

// New creates an orchestrator
func New(deps Dependencies, config Config, logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Audio == nil:
		return nil, errors.New("audio normalizer is required")
	case deps.Transcriber == nil:
		return nil, errors.New("transcriber is required")
	case deps.LLM == nil:
		return nil, errors.New("llm client is required")
	case deps.TTS == nil:
		return nil, errors.New("speech synthesizer is required")
	case deps.Records == nil || deps.Cipher == nil:
		return nil, errors.New("record store and cipher are required")
	case deps.Archiver == nil:
		return nil, errors.New("archiver is required")
	}

	if deps.Locks == nil {
		deps.Locks = session.NewLocker()
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Orchestrator{
		deps:    deps,
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Initiate starts a fresh conversation for user, discarding any previous
// live state under key, and returns the assistant's opening line.
func (o *Orchestrator) Initiate(ctx context.Context, key string, user User) (*Reply, error) {
	unlock := o.deps.Locks.Lock(key)
	defer unlock()

	logger := o.logger.With(slog.String("session_key", key), slog.String("user_id", user.ID))

	now := o.config.Now()
	state := &session.State{
		StartedAt: now,
		UserID:    user.ID,
		Username:  user.Name,
		UpdatedAt: now,
	}

	opening := o.openingPrompt(ctx, user, logger)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: o.config.SystemPrompt},
		{Role: llm.RoleUser, Content: opening},
	}

	replyText, err := o.deps.LLM.Complete(ctx, messages, o.config.CompletionOptions...)
	if err != nil {
		logger.Error("Opening completion failed, using apology", slog.String("error", err.Error()))
		replyText = GreetingFailedReply
		o.recordFallback(stageLLM)
	}

	state.Turns = append(state.Turns, session.Turn{Role: session.RoleAssistant, Content: replyText})

	replyAudio := o.speak(ctx, state, replyText, logger)

	if err := o.deps.Sessions.Set(ctx, key, state); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	o.incrementInitiations()
	o.metrics.RecordSessionInitiated()

	logger.Info("Conversation initiated",
		slog.Bool("has_audio", replyAudio != ""),
	)

	return &Reply{ReplyText: replyText, ReplyAudio: replyAudio}, nil
}

// openingPrompt picks the first user message from what is known about user
func (o *Orchestrator) openingPrompt(ctx context.Context, user User, logger *slog.Logger) string {
	rec, err := o.deps.Records.Get(ctx, user.ID)
	if errors.Is(err, records.ErrNotFound) {
		return genericOpening(user.Name)
	}
	if err != nil {
		logger.Error("Failed to load user record", slog.String("error", err.Error()))
		o.recordFallback(stageHistory)
		return unreadableHistoryOpening(user.Name)
	}

	var known facts.Facts
	if err := o.deps.Cipher.DecryptJSON(rec.EncryptedFacts, &known); err != nil {
		logger.Error("Failed to decrypt user record", slog.String("error", err.Error()))
		o.recordFallback(stageHistory)
		return unreadableHistoryOpening(user.Name)
	}

	known = known.Clean()
	if len(known) == 0 {
		return genericOpening(user.Name)
	}
	return personalizedOpening(user.Name, known.String())
}

// Turn runs one voice round trip: normalize, recognize, reply, synthesize.
// Only a failure to normalize the upload aborts the turn; every other
// failure is replaced with fallback text. user must be the user the session
// was initiated for.
func (o *Orchestrator) Turn(ctx context.Context, key string, user User, audioData []byte, formatHint string) (*Reply, error) {
	startTime := time.Now()

	unlock := o.deps.Locks.Lock(key)
	defer unlock()

	state, err := o.deps.Sessions.Get(ctx, key)
	if errors.Is(err, session.ErrNotFound) || (err == nil && state.StartedAt.IsZero()) {
		return nil, ErrNotInitiated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if state.UserID != user.ID {
		o.rejectForeignCaller(key, state.UserID, user.ID, "turn")
		return nil, ErrSessionOwner
	}

	logger := o.logger.With(slog.String("session_key", key), slog.String("user_id", state.UserID))

	userPath, err := o.deps.Audio.Normalize(ctx, audioData, formatHint, originUser)
	if err != nil {
		o.incrementTranscodeFailures()
		o.metrics.RecordTranscodeFailure()
		logger.Error("Failed to normalize user audio", slog.String("error", err.Error()))
		return nil, err
	}
	state.AudioSegments = append(state.AudioSegments, session.Segment{Path: userPath, Origin: session.RoleUser})

	userText := o.recognize(ctx, userPath, logger)
	state.Turns = append(state.Turns, session.Turn{Role: session.RoleUser, Content: userText})

	messages := make([]llm.Message, 0, len(state.Turns)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.config.SystemPrompt})
	for _, t := range state.Turns {
		messages = append(messages, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}

	replyText, err := o.deps.LLM.Complete(ctx, messages, o.config.CompletionOptions...)
	if err != nil {
		logger.Error("Reply completion failed, using fallback", slog.String("error", err.Error()))
		replyText = TurnFailedReply
		o.recordFallback(stageLLM)
	}
	state.Turns = append(state.Turns, session.Turn{Role: session.RoleAssistant, Content: replyText})

	replyAudio := o.speak(ctx, state, replyText, logger)

	state.UpdatedAt = o.config.Now()
	if err := o.deps.Sessions.Set(ctx, key, state); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	duration := time.Since(startTime)
	o.incrementTurns()
	o.metrics.RecordTurn(duration.Seconds())

	logger.Info("Turn completed",
		slog.Int("turns", len(state.Turns)),
		slog.Int("segments", len(state.AudioSegments)),
		slog.Duration("duration", duration),
	)

	return &Reply{UserText: userText, ReplyText: replyText, ReplyAudio: replyAudio}, nil
}

// recognize turns a normalized recording into user text, substituting a
// sentinel when nothing usable comes back
func (o *Orchestrator) recognize(ctx context.Context, path string, logger *slog.Logger) string {
	if o.deps.Gate != nil {
		decision, err := o.deps.Gate.AnalyzeFile(path)
		if err != nil {
			logger.Warn("Speech gate failed, sending audio to recognition", slog.String("error", err.Error()))
		} else {
			o.metrics.RecordVADDecision(decision.HasSpeech)
			if !decision.HasSpeech {
				logger.Debug("No voice activity detected",
					slog.Duration("voiced", decision.Voiced),
					slog.Duration("total", decision.Total),
				)
				o.incrementRecognitionMisses()
				o.recordFallback(stageSpeechGate)
				return UnrecognizedSpeechText
			}
		}
	}

	text, err := o.deps.Transcriber.Transcribe(ctx, path)
	switch {
	case err == nil:
		return text
	case errors.Is(err, transcription.ErrNoSpeech):
		o.incrementRecognitionMisses()
		o.recordFallback(stageRecognitionMiss)
		return UnrecognizedSpeechText
	default:
		logger.Error("Speech recognition failed", slog.String("error", err.Error()))
		o.incrementRecognitionFailures()
		o.recordFallback(stageRecognitionFail)
		return RecognitionFailedText
	}
}

// speak synthesizes text and appends the resulting segment to state. It
// returns the segment path, or "" when no audio could be produced.
func (o *Orchestrator) speak(ctx context.Context, state *session.State, text string, logger *slog.Logger) string {
	raw := o.deps.TTS.Synthesize(ctx, text)
	if len(raw) == 0 {
		o.incrementSynthesisMisses()
		o.recordFallback(stageSynthesis)
		return ""
	}

	path, err := o.deps.Audio.Normalize(ctx, raw, o.deps.TTS.Format(), originBot)
	if err != nil {
		o.incrementTranscodeFailures()
		o.metrics.RecordTranscodeFailure()
		logger.Error("Failed to normalize reply audio", slog.String("error", err.Error()))
		return ""
	}

	state.AudioSegments = append(state.AudioSegments, session.Segment{Path: path, Origin: session.RoleAssistant})
	return path
}

// Finalize ends the session. A non-empty session is handed to the archiver
// and the live state is cleared without waiting for archival. The returned
// job ID is empty when there was nothing to archive. A session initiated for
// a different user is rejected with ErrSessionOwner and kept.
func (o *Orchestrator) Finalize(ctx context.Context, key string, user User) (string, error) {
	unlock := o.deps.Locks.Lock(key)
	defer unlock()

	logger := o.logger.With(slog.String("session_key", key))

	state, err := o.deps.Sessions.Get(ctx, key)
	if errors.Is(err, session.ErrNotFound) {
		o.incrementEmptyFinalizations()
		logger.Debug("Finalize without live session")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if state.UserID != user.ID {
		o.rejectForeignCaller(key, state.UserID, user.ID, "finalize")
		return "", ErrSessionOwner
	}

	if err := o.deps.Sessions.Clear(ctx, key); err != nil {
		return "", fmt.Errorf("failed to clear session: %w", err)
	}

	o.metrics.RecordSessionFinalized()

	if state.Empty() {
		o.incrementEmptyFinalizations()
		logger.Info("Nothing to archive",
			slog.Int("turns", len(state.Turns)),
			slog.Int("segments", len(state.AudioSegments)),
		)
		return "", nil
	}

	job := archive.NewJob(key, state)
	if err := o.deps.Archiver.Submit(job); err != nil {
		o.incrementArchiveRejected()
		logger.Error("Archival job rejected, session audio left on disk",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to submit archival job: %w", err)
	}

	o.incrementFinalizations()
	logger.Info("Session handed to archival",
		slog.String("job_id", job.ID),
		slog.String("user_id", state.UserID),
		slog.Int("turns", len(state.Turns)),
		slog.Int("segments", len(state.AudioSegments)),
	)

	return job.ID, nil
}

// ArchiveExpired hands a session the store dropped for inactivity to
// archival, the same way Finalize would. It matches session.ExpiryHandler.
func (o *Orchestrator) ArchiveExpired(key string, state *session.State) {
	logger := o.logger.With(slog.String("session_key", key))

	if state.Empty() {
		logger.Debug("Expired session had nothing to archive")
		return
	}

	job := archive.NewJob(key, state)
	if err := o.deps.Archiver.Submit(job); err != nil {
		o.incrementArchiveRejected()
		logger.Error("Archival of expired session rejected, session audio left on disk",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	o.statsMu.Lock()
	o.stats.ExpiredArchived++
	o.statsMu.Unlock()

	logger.Info("Expired session handed to archival",
		slog.String("job_id", job.ID),
		slog.String("user_id", state.UserID),
		slog.Int("turns", len(state.Turns)),
		slog.Int("segments", len(state.AudioSegments)),
	)
}

func (o *Orchestrator) rejectForeignCaller(key, owner, caller, op string) {
	o.statsMu.Lock()
	o.stats.OwnerMismatches++
	o.statsMu.Unlock()

	o.logger.Warn("Session used by a different user, request rejected",
		slog.String("session_key", key),
		slog.String("owner_id", owner),
		slog.String("caller_id", caller),
		slog.String("operation", op),
	)
}

func (o *Orchestrator) recordFallback(stage string) {
	o.metrics.RecordFallback(stage)
	if stage == stageLLM {
		o.statsMu.Lock()
		o.stats.LLMFallbacks++
		o.statsMu.Unlock()
	}
}

func (o *Orchestrator) incrementInitiations() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.Initiations++
}

func (o *Orchestrator) incrementTurns() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.Turns++
}

func (o *Orchestrator) incrementFinalizations() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.Finalizations++
}

func (o *Orchestrator) incrementEmptyFinalizations() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.EmptyFinalizations++
}

func (o *Orchestrator) incrementArchiveRejected() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.ArchiveRejected++
}

func (o *Orchestrator) incrementRecognitionMisses() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.RecognitionMisses++
}

func (o *Orchestrator) incrementRecognitionFailures() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.RecognitionFailures++
}

func (o *Orchestrator) incrementSynthesisMisses() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.SynthesisMisses++
}

func (o *Orchestrator) incrementTranscodeFailures() {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.TranscodeFailures++
}

// Stats returns a snapshot of orchestrator counters
func (o *Orchestrator) Stats() Stats {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return o.stats
}
