package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-archive-service/internal/audio"
	"github.com/skypro1111/voice-archive-service/internal/cryptostore"
	"github.com/skypro1111/voice-archive-service/internal/facts"
	"github.com/skypro1111/voice-archive-service/internal/llm"
	"github.com/skypro1111/voice-archive-service/internal/metrics"
	"github.com/skypro1111/voice-archive-service/internal/records"
	"github.com/skypro1111/voice-archive-service/internal/session"
)

// DefaultSilenceGap is the pause inserted between merged segments
const DefaultSilenceGap = 500 * time.Millisecond

// Job outcomes reported to metrics
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Job is one finalized session handed to the archival pipeline
type Job struct {
	ID          string
	SessionKey  string
	Snapshot    session.State
	SubmittedAt time.Time
}

// NewJob builds a job from a copy of the session state
func NewJob(sessionKey string, state *session.State) Job {
	return Job{
		ID:          uuid.NewString(),
		SessionKey:  sessionKey,
		Snapshot:    *state.Clone(),
		SubmittedAt: time.Now(),
	}
}

// Result describes what one job achieved. Stage errors are recorded, never
// returned.
type Result struct {
	JobID  string
	UserID string

	MergedPath      string
	MergedSeconds   float64
	SegmentsRemoved int
	MergeErr        error

	Facts     facts.Facts
	Persisted bool
	FactsErr  error
}

// Outcome classifies the result for metrics
func (r Result) Outcome() string {
	switch {
	case r.MergeErr == nil && r.FactsErr == nil:
		return OutcomeOK
	case r.MergeErr != nil && r.FactsErr != nil:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// AudioMerger concatenates session segments into one recording
type AudioMerger interface {
	SilenceClip(ctx context.Context, d time.Duration) (string, error)
	Concatenate(ctx context.Context, segments []string, silence string) (string, error)
}

// FactExtractor pulls structured facts out of a transcript
type FactExtractor interface {
	Extract(ctx context.Context, transcript []llm.Message) facts.Facts
}

// WorkerConfig holds the collaborators of a Worker
type WorkerConfig struct {
	Merger     AudioMerger
	Extractor  FactExtractor
	Records    records.Store
	Cipher     *cryptostore.Cipher
	UserLocks  *session.Locker
	SilenceGap time.Duration
	Now        func() time.Time
}

// Worker runs the archival pipeline for one job at a time. A single Worker
// is safe to share between queue goroutines.
type Worker struct {
	merger     AudioMerger
	extractor  FactExtractor
	records    records.Store
	cipher     *cryptostore.Cipher
	userLocks  *session.Locker
	silenceGap time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewWorker creates an archival worker
func NewWorker(config WorkerConfig, logger *slog.Logger, m *metrics.Metrics) (*Worker, error) {
	if config.Merger == nil || config.Extractor == nil || config.Records == nil || config.Cipher == nil {
		return nil, errors.New("archive worker requires merger, extractor, record store and cipher")
	}
	if config.UserLocks == nil {
		config.UserLocks = session.NewLocker()
	}
	if config.SilenceGap <= 0 {
		config.SilenceGap = DefaultSilenceGap
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Worker{
		merger:     config.Merger,
		extractor:  config.Extractor,
		records:    config.Records,
		cipher:     config.Cipher,
		userLocks:  config.UserLocks,
		silenceGap: config.SilenceGap,
		now:        config.Now,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Process archives one finalized session: merge its audio, then extract and
// persist facts. Every stage failure is logged and recorded in the result.
func (w *Worker) Process(ctx context.Context, job Job) Result {
	startTime := time.Now()
	result := Result{JobID: job.ID, UserID: job.Snapshot.UserID}

	logger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("user_id", job.Snapshot.UserID),
	)

	logger.Info("Archival job started",
		slog.Int("turns", len(job.Snapshot.Turns)),
		slog.Int("segments", len(job.Snapshot.AudioSegments)),
	)

	if len(job.Snapshot.AudioSegments) > 0 {
		w.mergeAudio(ctx, job, &result, logger)
	} else {
		logger.Debug("No audio segments, skipping merge")
	}

	w.persistFacts(ctx, job, &result, logger)

	duration := time.Since(startTime)
	w.metrics.RecordArchiveJob(result.Outcome(), duration.Seconds(), result.Persisted)

	logger.Info("Archival job finished",
		slog.String("outcome", result.Outcome()),
		slog.String("merged", result.MergedPath),
		slog.Bool("persisted", result.Persisted),
		slog.Duration("duration", duration),
	)

	return result
}

func (w *Worker) mergeAudio(ctx context.Context, job Job, result *Result, logger *slog.Logger) {
	silence, err := w.merger.SilenceClip(ctx, w.silenceGap)
	if err != nil {
		result.MergeErr = fmt.Errorf("silence clip: %w", err)
		logger.Error("Failed to prepare silence clip, keeping segments", slog.String("error", err.Error()))
		return
	}

	paths := job.Snapshot.SegmentPaths()
	merged, err := w.merger.Concatenate(ctx, paths, silence)
	if err != nil {
		result.MergeErr = fmt.Errorf("concatenate: %w", err)
		w.metrics.RecordConcatenationFailure()
		logger.Error("Failed to merge session audio, keeping segments", slog.String("error", err.Error()))
		return
	}
	result.MergedPath = merged

	for _, path := range paths {
		if path == merged {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("Failed to remove segment",
					slog.String("segment", path),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		result.SegmentsRemoved++
	}

	// A bad header is logged; the merged file is kept either way
	if seconds, err := audio.WAVFileDuration(merged); err != nil {
		logger.Warn("Failed to read merged audio header",
			slog.String("merged", merged),
			slog.String("error", err.Error()),
		)
	} else {
		result.MergedSeconds = seconds
	}

	logger.Info("Session audio merged",
		slog.String("merged", merged),
		slog.Float64("merged_seconds", result.MergedSeconds),
		slog.Int("segments_removed", result.SegmentsRemoved),
	)
}

func (w *Worker) persistFacts(ctx context.Context, job Job, result *Result, logger *slog.Logger) {
	userID := job.Snapshot.UserID
	if userID == "" {
		result.FactsErr = errors.New("snapshot has no user")
		logger.Error("Cannot persist facts without a user")
		return
	}

	extracted := w.extractor.Extract(ctx, transcript(job.Snapshot.Turns))

	unlock := w.userLocks.Lock(userID)
	defer unlock()

	existing, err := w.records.Get(ctx, userID)
	switch {
	case errors.Is(err, records.ErrNotFound):
		existing = nil
	case err != nil:
		result.FactsErr = fmt.Errorf("load record: %w", err)
		logger.Error("Failed to load user record", slog.String("error", err.Error()))
		return
	}

	prior := facts.Facts{}
	if existing != nil {
		if err := w.cipher.DecryptJSON(existing.EncryptedFacts, &prior); err != nil {
			logger.Warn("Stored facts could not be decrypted, treating as empty",
				slog.String("error", err.Error()),
			)
			prior = facts.Facts{}
		}
	}

	merged, changed := facts.Merge(prior, extracted)
	result.Facts = merged
	if len(merged) == 0 {
		logger.Info("No facts to persist")
		return
	}

	blob, err := w.cipher.EncryptJSON(merged)
	if err != nil {
		result.FactsErr = fmt.Errorf("encrypt facts: %w", err)
		logger.Error("Failed to encrypt facts", slog.String("error", err.Error()))
		return
	}

	now := w.now()
	rec := &records.Record{
		UserID:          userID,
		EncryptedFacts:  blob,
		StartTime:       job.Snapshot.StartedAt,
		EndTime:         now,
		DurationSeconds: now.Sub(job.Snapshot.StartedAt).Seconds(),
		UpdatedAt:       now,
	}

	if existing == nil {
		err = w.records.Insert(ctx, rec)
	} else {
		err = w.records.Update(ctx, rec)
	}
	if err != nil {
		result.FactsErr = fmt.Errorf("save record: %w", err)
		logger.Error("Failed to save user record", slog.String("error", err.Error()))
		return
	}

	result.Persisted = true
	logger.Info("User record saved",
		slog.Bool("inserted", existing == nil),
		slog.Bool("changed", changed),
		slog.Int("facts", len(merged)),
	)
}

func transcript(turns []session.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	return messages
}
