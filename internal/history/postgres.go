package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/resilience"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const insertEntry = `INSERT INTO session_history (id, user_id, companion_id, created_at) VALUES ($1, $2, $3, $4)`

// PostgresStore stores session history in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore opens a connection pool for dsn. The pool connects lazily; use Ping to
// check the database is reachable.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Add inserts one history entry.
func (s *PostgresStore) Add(ctx context.Context, userID, companionID string) error {
	if err := validate(userID, companionID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertEntry, uuid.NewString(), userID, companionID, s.now().UTC()); err != nil {
		return insertError(err)
	}
	return nil
}

// insertError marks server errors that a later attempt may not hit as retryable.
func insertError(err error) error {
	err = fmt.Errorf("insert session history: %w", err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientSQLState(pgErr.Code) {
		return resilience.NewRetryableError(err)
	}
	return err
}

func transientSQLState(code string) bool {
	if strings.HasPrefix(code, "08") { // connection exception
		return true
	}
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"53300", // too_many_connections
		"57P01", // admin_shutdown
		"57P03": // cannot_connect_now
		return true
	}
	return false
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate applies pending schema migrations to the database at dsn.
func Migrate(ctx context.Context, dsn string, logger zerolog.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info().
			Int64("version", r.Source.Version).
			Dur("duration", r.Duration).
			Msg("Applied migration")
	}
	return nil
}
