package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiryHandler receives a session the memory store swept for being idle.
// It runs on the cleanup goroutine after the store lock is released.
type ExpiryHandler func(key string, state *State)

// MemoryStore keeps session state in process memory. Values are cloned on
// the way in and out, and sessions idle for longer than the TTL are swept by
// a background routine.
type MemoryStore struct {
	sessions map[string]*State
	mu       sync.RWMutex
	logger   *slog.Logger
	ttl      time.Duration
	now      func() time.Time
	onExpire ExpiryHandler

	// Cleanup management
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	cleanup  chan struct{}
	once     sync.Once
}

// NewMemoryStore creates an in-memory store and starts its cleanup routine
func NewMemoryStore(ttl, cleanupInterval time.Duration, logger *slog.Logger) *MemoryStore {
	return newSweepingStore(ttl, cleanupInterval, logger, nil)
}

func newSweepingStore(ttl, cleanupInterval time.Duration, logger *slog.Logger, onExpire ExpiryHandler) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryStore{
		sessions: make(map[string]*State),
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
		onExpire: onExpire,
		interval: cleanupInterval,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go s.startCleanupRoutine()

	return s
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, key string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[key]
	if !ok || s.expired(state) {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Set implements Store
func (s *MemoryStore) Set(ctx context.Context, key string, state *State) error {
	stored := state.Clone()
	stored.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = stored
	return nil
}

// Clear implements Store
func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the cleanup routine and drops all sessions
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.cleanup

		s.mu.Lock()
		s.sessions = make(map[string]*State)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) expired(state *State) bool {
	return s.now().Sub(state.UpdatedAt) > s.ttl
}

// startCleanupRoutine runs in a separate goroutine to remove idle sessions
func (s *MemoryStore) startCleanupRoutine() {
	defer close(s.cleanup)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too
// long and passes each one to the expiry handler, if any
func (s *MemoryStore) cleanupExpiredSessions() {
	s.mu.Lock()
	expired := make(map[string]*State)
	for key, state := range s.sessions {
		if s.expired(state) {
			delete(s.sessions, key)
			expired[key] = state
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	s.logger.Info("Cleaned up expired sessions",
		slog.Int("expired_count", len(expired)),
		slog.Int("remaining", remaining),
	)

	if s.onExpire == nil {
		return
	}
	for key, state := range expired {
		s.onExpire(key, state)
	}
}
