package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// postgresMaxConns keeps the per-account pool small; the engine is
// sequential within an account.
const postgresMaxConns = 4

// pgDuplicateDatabase is SQLSTATE duplicate_database.
const pgDuplicateDatabase = "42P04"

const (
	sqlPgGetCursor = `SELECT last_sync_timestamp, last_synced_uuid, COALESCE(last_synced_internal_id, '')
		FROM sync_status WHERE client_id = $1`

	sqlPgSetCursor = `INSERT INTO sync_status
		(client_id, last_sync_timestamp, last_synced_uuid, last_synced_internal_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(client_id) DO UPDATE SET
		 last_sync_timestamp = excluded.last_sync_timestamp,
		 last_synced_uuid = excluded.last_synced_uuid,
		 last_synced_internal_id = excluded.last_synced_internal_id,
		 updated_at = excluded.updated_at`
)

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timeArg: func(t time.Time) any {
		if t.IsZero() {
			return nil
		}

		return t.UTC()
	},
	rawArg: func(raw []byte) any { return string(raw) },
}

// PostgresStore is the server-database backend.
type PostgresStore struct {
	pool    *pgxpool.Pool
	stmts   map[invoice.Direction]statements
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenPostgres connects to dsn, migrates the schema and returns a store.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parsing postgres DSN: %w", err)
	}

	cfg.MaxConns = postgresMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	migrateErr := runMigrations(ctx, db, goose.DialectPostgres, "postgres", logger)

	// Closing the database/sql wrapper leaves the pool open.
	if err := db.Close(); err != nil && migrateErr == nil {
		migrateErr = fmt.Errorf("store: closing migration handle: %w", err)
	}

	if migrateErr != nil {
		pool.Close()
		return nil, migrateErr
	}

	stmts, err := allStatements(postgresDialect)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug("postgres store opened",
		slog.String("host", cfg.ConnConfig.Host),
		slog.String("database", cfg.ConnConfig.Database),
	)

	return &PostgresStore{pool: pool, stmts: stmts, logger: logger, nowFunc: time.Now}, nil
}

func (s *PostgresStore) statements(p invoice.Direction) (statements, error) {
	st, ok := s.stmts[p]
	if !ok {
		return statements{}, fmt.Errorf("%w: %s", ErrBadPartition, p)
	}

	return st, nil
}

// ExistsBatch returns the subset of ids already stored in the partition.
func (s *PostgresStore) ExistsBatch(ctx context.Context, ids []string, partition invoice.Direction) (map[string]bool, error) {
	docs, _, err := tableNames(partition)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool)
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx, "SELECT uuid FROM "+docs+" WHERE uuid = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("store: checking existing ids: %w", err)
	}

	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("store: scanning ids: %w", err)
	}

	for _, id := range existing {
		found[id] = true
	}

	return found, nil
}

// Begin starts a batch transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("store: beginning transaction: %w", err)
	}

	return &postgresTx{tx: tx, store: s}, nil
}

// UpdateStatus records a remote status change. Returns ErrNotFound if the
// document is not stored in the partition.
func (s *PostgresStore) UpdateStatus(ctx context.Context, uuid, status, reason string, partition invoice.Direction) error {
	st, err := s.statements(partition)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, st.updateStatus, status, reason, s.nowFunc().UTC(), uuid)
	if err != nil {
		return fmt.Errorf("store: updating status of %s: %w", uuid, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}

	return nil
}

// GetCursor returns the account's cursor; ok is false when none is stored.
func (s *PostgresStore) GetCursor(ctx context.Context, account string) (Cursor, bool, error) {
	var c Cursor

	err := s.pool.QueryRow(ctx, sqlPgGetCursor, account).Scan(&c.Timestamp, &c.UUID, &c.InternalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, false, nil
	}

	if err != nil {
		return Cursor{}, false, fmt.Errorf("store: reading cursor for %s: %w", account, err)
	}

	c.Timestamp = c.Timestamp.UTC()

	return c, true, nil
}

// SetCursor stores the account's cursor, replacing any previous value.
func (s *PostgresStore) SetCursor(ctx context.Context, account string, c Cursor) error {
	_, err := s.pool.Exec(ctx, sqlPgSetCursor, account, c.Timestamp.UTC(), c.UUID, c.InternalID, s.nowFunc().UTC())
	if err != nil {
		return fmt.Errorf("store: writing cursor for %s: %w", account, err)
	}

	return nil
}

// MutableDocuments returns documents whose cancel or reject deadline is after
// now and whose stored status is not final.
func (s *PostgresStore) MutableDocuments(ctx context.Context, partition invoice.Direction, now time.Time) ([]MutableDoc, error) {
	st, err := s.statements(partition)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, st.mutable, now.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: listing mutable documents: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MutableDoc, error) {
		var m MutableDoc
		err := row.Scan(&m.UUID, &m.Status)

		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scanning mutable documents: %w", err)
	}

	return out, nil
}

// Count returns the number of stored documents in the partition.
func (s *PostgresStore) Count(ctx context.Context, partition invoice.Direction) (int, error) {
	st, err := s.statements(partition)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.pool.QueryRow(ctx, st.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting documents: %w", err)
	}

	return n, nil
}

// Ping verifies the server is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}

	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx    pgx.Tx
	store *PostgresStore
}

// Upsert writes the header and replaces its lines.
func (t *postgresTx) Upsert(ctx context.Context, doc *invoice.Document, partition invoice.Direction) error {
	st, err := t.store.statements(partition)
	if err != nil {
		return err
	}

	if _, err := t.tx.Exec(ctx, st.upsertDoc, documentArgs(postgresDialect, doc, t.store.nowFunc())...); err != nil {
		return fmt.Errorf("store: upserting %s: %w", doc.UUID, err)
	}

	if _, err := t.tx.Exec(ctx, st.deleteLines, doc.UUID); err != nil {
		return fmt.Errorf("store: clearing lines of %s: %w", doc.UUID, err)
	}

	if len(doc.Lines) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range doc.Lines {
		batch.Queue(st.insertLine, lineArgs(doc.UUID, i+1, &doc.Lines[i])...)
	}

	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: inserting lines of %s: %w", doc.UUID, err)
	}

	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: committing: %w", err)
	}

	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("store: rolling back: %w", err)
	}

	return nil
}

// CreateDatabase creates the database named in dsn by connecting to the
// "postgres" maintenance database on the same server. created is false when
// the database already exists.
func CreateDatabase(ctx context.Context, dsn string) (created bool, err error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return false, fmt.Errorf("store: parsing postgres DSN: %w", err)
	}

	name := cfg.Database
	if name == "" {
		return false, fmt.Errorf("store: DSN names no database")
	}

	cfg.Database = "postgres"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("store: connecting to maintenance database: %w", err)
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateDatabase {
			return false, nil
		}

		return false, fmt.Errorf("store: creating database %s: %w", name, err)
	}

	return true, nil
}
