package records

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals
var migrateMu sync.Mutex

const uniqueViolation = "23505"

// PostgresStore keeps records in the user_records table
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to Postgres and applies pending migrations
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN cannot be empty")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create pool: %w", ErrPersistence, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to reach postgres: %w", ErrPersistence, err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Record store connected",
		slog.String("driver", DriverPostgres),
		slog.Int("max_conns", int(poolConfig.MaxConns)),
	)

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("%w: failed to apply migrations: %w", ErrPersistence, err)
	}
	return nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, encrypted_facts, start_time, end_time, duration_seconds, updated_at
		FROM user_records
		WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.EncryptedFacts, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &rec, nil
}

// Insert implements Store
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_records (user_id, encrypted_facts, start_time, end_time, duration_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.UserID, rec.EncryptedFacts, rec.StartTime, rec.EndTime, rec.DurationSeconds, rec.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Update implements Store
func (s *PostgresStore) Update(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE user_records
		SET encrypted_facts = $2, start_time = $3, end_time = $4, duration_seconds = $5, updated_at = $6
		WHERE user_id = $1`,
		rec.UserID, rec.EncryptedFacts, rec.StartTime, rec.EndTime, rec.DurationSeconds, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, encrypted_facts, start_time, end_time, duration_seconds, updated_at
		FROM user_records
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.UserID, &rec.EncryptedFacts, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return out, nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
