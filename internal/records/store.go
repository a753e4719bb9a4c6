package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotFound is returned when a user has no stored record
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when inserting a record for a user that has one
	ErrExists = errors.New("record already exists")

	// ErrPersistence wraps backend failures
	ErrPersistence = errors.New("record persistence failure")
)

// Record is the persisted, encrypted fact set of one user. There is at most
// one record per user.
type Record struct {
	UserID          string    `json:"user_id"`
	EncryptedFacts  []byte    `json:"encrypted_facts"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists user records
type Store interface {
	// Get returns the user's record, or ErrNotFound
	Get(ctx context.Context, userID string) (*Record, error)

	// Insert stores a new record, or fails with ErrExists
	Insert(ctx context.Context, rec *Record) error

	// Update replaces an existing record, or fails with ErrNotFound
	Update(ctx context.Context, rec *Record) error

	// List returns all records ordered by user ID
	List(ctx context.Context) ([]Record, error)

	// Close releases the store's resources
	Close() error
}

// Driver names accepted by Open
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Config selects and configures a record store backend
type Config struct {
	Driver      string
	BadgerDir   string
	InMemory    bool // badger without disk persistence
	PostgresDSN string
	MaxConns    int32
}

// Open creates the configured record store
func Open(ctx context.Context, config Config, logger *slog.Logger) (Store, error) {
	switch config.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverBadger:
		return NewBadgerStore(BadgerOptions{
			Dir:      config.BadgerDir,
			InMemory: config.InMemory,
			Logger:   logger,
		})
	case DriverPostgres:
		return NewPostgresStore(ctx, config.PostgresDSN, config.MaxConns, logger)
	default:
		return nil, fmt.Errorf("unknown record store driver %q", config.Driver)
	}
}

func validate(rec *Record) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("record must have a user ID")
	}
	return nil
}
