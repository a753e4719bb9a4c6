package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleState() *State {
	return &State{
		Turns: []Turn{
			{Role: RoleAssistant, Content: "Hi Asha, how may I help you today?"},
			{Role: RoleUser, Content: "I need help with admissions"},
		},
		AudioSegments: []Segment{
			{Path: "/var/audio/20240131_142501_000001_bot.wav", Origin: RoleAssistant},
			{Path: "/var/audio/20240131_142510_000002_user.wav", Origin: RoleUser},
		},
		StartedAt: time.Date(2024, 1, 31, 14, 25, 0, 0, time.UTC),
		UserID:    "42",
		Username:  "asha",
	}
}

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewStore(StoreTypeRedis, WithRedisClient(client), WithTTL(time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(StoreTypeMemory, WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	drivers := map[string]func(t *testing.T) Store{
		"memory": newMemoryStore,
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
	}

	for name, open := range drivers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			want := sampleState()
			require.NoError(t, store.Set(ctx, "k1", want))

			got, err := store.Get(ctx, "k1")
			require.NoError(t, err)
			assert.Equal(t, want.Turns, got.Turns)
			assert.Equal(t, want.AudioSegments, got.AudioSegments)
			assert.True(t, want.StartedAt.Equal(got.StartedAt))
			assert.Equal(t, "42", got.UserID)
			assert.Equal(t, "asha", got.Username)
			assert.False(t, got.UpdatedAt.IsZero())

			require.NoError(t, store.Clear(ctx, "k1"))
			_, err = store.Get(ctx, "k1")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, store.Clear(ctx, "k1"), "clearing twice is not an error")
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	state := sampleState()
	require.NoError(t, store.Set(ctx, "k", state))

	// Mutating the caller's copy must not leak into the store
	state.Turns[0].Content = "changed"
	state.Turns = append(state.Turns, Turn{Role: RoleUser, Content: "extra"})

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, got.Turns, 2)
	assert.Equal(t, "Hi Asha, how may I help you today?", got.Turns[0].Content)

	got.AudioSegments[0].Path = "mutated"
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.AudioSegments[0].Path)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(50*time.Millisecond, 10*time.Millisecond, testLogger())
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Set(ctx, "k", sampleState()))

	require.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 10*time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiryHandler(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	handed := make(map[string]*State)
	store, err := NewStore(StoreTypeMemory,
		WithTTL(50*time.Millisecond),
		WithCleanupInterval(10*time.Millisecond),
		WithLogger(testLogger()),
		WithExpiryHandler(func(key string, state *State) {
			mu.Lock()
			defer mu.Unlock()
			handed[key] = state
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Set(ctx, "k", sampleState()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handed) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	state := handed["k"]
	mu.Unlock()
	require.NotNil(t, state)
	assert.Equal(t, sampleState().UserID, state.UserID)
	assert.Len(t, state.AudioSegments, len(sampleState().AudioSegments))

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.Set(ctx, "abc", sampleState()))
	assert.True(t, mr.Exists("voice:session:abc"))
	assert.Equal(t, time.Minute, mr.TTL("voice:session:abc"))

	mr.FastForward(30 * time.Second)
	_, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("voice:session:abc"), "read refreshes TTL")

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore("etcd")
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}

func TestStateClone(t *testing.T) {
	state := sampleState()
	clone := state.Clone()

	clone.Turns[0].Content = "changed"
	clone.AudioSegments = append(clone.AudioSegments, Segment{Path: "x"})

	assert.Equal(t, "Hi Asha, how may I help you today?", state.Turns[0].Content)
	assert.Len(t, state.AudioSegments, 2)
	assert.Nil(t, (*State)(nil).Clone())
}

func TestStateEmpty(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*State)
		empty  bool
	}{
		{"complete", func(s *State) {}, false},
		{"no turns", func(s *State) { s.Turns = nil }, true},
		{"no segments", func(s *State) { s.AudioSegments = nil }, true},
		{"no start", func(s *State) { s.StartedAt = time.Time{} }, true},
		{"no user", func(s *State) { s.UserID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleState()
			tt.mutate(s)
			assert.Equal(t, tt.empty, s.Empty())
		})
	}

	assert.True(t, (*State)(nil).Empty())
	assert.Equal(t, []string{
		"/var/audio/20240131_142501_000001_bot.wav",
		"/var/audio/20240131_142510_000002_user.wav",
	}, sampleState().SegmentPaths())
}

func TestLockerSerializesKey(t *testing.T) {
	locker := NewLocker()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("session-a")
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, locker.Len(), "idle keys are released")
}

func TestLockerIndependentKeys(t *testing.T) {
	locker := NewLocker()

	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}

	unlockA()
	unlockA() // second call is a no-op
	assert.Equal(t, 0, locker.Len())
}
