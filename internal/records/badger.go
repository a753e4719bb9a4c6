package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "record:"

// BadgerStore keeps records as JSON values in an embedded BadgerDB
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence
	InMemory bool

	// Logger receives badger warnings and errors. Nil uses slog.Default.
	Logger *slog.Logger
}

// NewBadgerStore opens a BadgerDB-backed store
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger directory is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With(slog.String("component", "badger"))})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger: %w", ErrPersistence, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(userID string) []byte {
	return []byte(badgerPrefix + userID)
}

// Get implements Store
func (s *BadgerStore) Get(_ context.Context, userID string) (*Record, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(userID))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record for user %s: %w", ErrPersistence, userID, err)
	}
	return &rec, nil
}

// Insert implements Store
func (s *BadgerStore) Insert(_ context.Context, rec *Record) error {
	return s.write(rec, false)
}

// Update implements Store
func (s *BadgerStore) Update(_ context.Context, rec *Record) error {
	return s.write(rec, true)
}

// write stores rec inside one transaction. mustExist selects update
// semantics; otherwise the key must be absent.
func (s *BadgerStore) write(rec *Record, mustExist bool) error {
	if err := validate(rec); err != nil {
		return err
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := badgerKey(rec.UserID)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if mustExist {
				return ErrNotFound
			}
		case err != nil:
			return err
		case !mustExist:
			return ErrExists
		}
		return txn.Set(key, val)
	})

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// List implements Store
func (s *BadgerStore) List(_ context.Context) ([]Record, error) {
	var out []Record
	prefix := []byte(badgerPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return out, nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger output to slog, dropping info and debug noise
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
