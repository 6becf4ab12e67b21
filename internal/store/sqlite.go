package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// sqliteTimeLayout is fixed-width so that text comparison orders correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqlSQLiteGetCursor = `SELECT last_sync_timestamp, last_synced_uuid, COALESCE(last_synced_internal_id, '')
		FROM sync_status WHERE client_id = ?`

	sqlSQLiteSetCursor = `INSERT INTO sync_status
		(client_id, last_sync_timestamp, last_synced_uuid, last_synced_internal_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
		 last_sync_timestamp = excluded.last_sync_timestamp,
		 last_synced_uuid = excluded.last_synced_uuid,
		 last_synced_internal_id = excluded.last_synced_internal_id,
		 updated_at = excluded.updated_at`
)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg: func(t time.Time) any {
		if t.IsZero() {
			return nil
		}

		return t.UTC().Format(sqliteTimeLayout)
	},
	rawArg: func(raw []byte) any { return string(raw) },
}

// SQLiteStore is the single-file backend. One connection, WAL journal.
type SQLiteStore struct {
	db      *sql.DB
	stmts   map[invoice.Direction]statements
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, goose.DialectSQLite3, "sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}

	stmts, err := allStatements(sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite store opened", slog.String("path", path))

	return &SQLiteStore{db: db, stmts: stmts, logger: logger, nowFunc: time.Now}, nil
}

func allStatements(d dialect) (map[invoice.Direction]statements, error) {
	out := make(map[invoice.Direction]statements, len(invoice.Directions))

	for _, p := range invoice.Directions {
		s, err := buildStatements(d, p)
		if err != nil {
			return nil, err
		}

		out[p] = s
	}

	return out, nil
}

func (s *SQLiteStore) statements(p invoice.Direction) (statements, error) {
	st, ok := s.stmts[p]
	if !ok {
		return statements{}, fmt.Errorf("%w: %s", ErrBadPartition, p)
	}

	return st, nil
}

// ExistsBatch returns the subset of ids already stored in the partition.
func (s *SQLiteStore) ExistsBatch(ctx context.Context, ids []string, partition invoice.Direction) (map[string]bool, error) {
	docs, _, err := tableNames(partition)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool)

	for start := 0; start < len(ids); start += existsChunk {
		chunk := ids[start:min(start+existsChunk, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := fmt.Sprintf("SELECT uuid FROM %s WHERE uuid IN (%s)",
			docs, strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", "))

		if err := s.collectIDs(ctx, query, args, found); err != nil {
			return nil, err
		}
	}

	return found, nil
}

func (s *SQLiteStore) collectIDs(ctx context.Context, query string, args []any, into map[string]bool) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: checking existing ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("store: scanning id: %w", err)
		}

		into[id] = true
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterating ids: %w", err)
	}

	return nil
}

// Begin starts a batch transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning transaction: %w", err)
	}

	return &sqliteTx{tx: tx, store: s}, nil
}

// UpdateStatus records a remote status change. Returns ErrNotFound if the
// document is not stored in the partition.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, uuid, status, reason string, partition invoice.Direction) error {
	st, err := s.statements(partition)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, st.updateStatus, status, reason, sqliteDialect.timeArg(s.nowFunc()), uuid)
	if err != nil {
		return fmt.Errorf("store: updating status of %s: %w", uuid, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: updating status of %s: %w", uuid, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}

	return nil
}

// GetCursor returns the account's cursor; ok is false when none is stored.
func (s *SQLiteStore) GetCursor(ctx context.Context, account string) (Cursor, bool, error) {
	var (
		c  Cursor
		ts string
	)

	err := s.db.QueryRowContext(ctx, sqlSQLiteGetCursor, account).Scan(&ts, &c.UUID, &c.InternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, false, nil
	}

	if err != nil {
		return Cursor{}, false, fmt.Errorf("store: reading cursor for %s: %w", account, err)
	}

	c.Timestamp, err = time.Parse(sqliteTimeLayout, ts)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("store: parsing cursor timestamp %q: %w", ts, err)
	}

	return c, true, nil
}

// SetCursor stores the account's cursor, replacing any previous value.
func (s *SQLiteStore) SetCursor(ctx context.Context, account string, c Cursor) error {
	_, err := s.db.ExecContext(ctx, sqlSQLiteSetCursor,
		account, sqliteDialect.timeArg(c.Timestamp), c.UUID, c.InternalID,
		sqliteDialect.timeArg(s.nowFunc()))
	if err != nil {
		return fmt.Errorf("store: writing cursor for %s: %w", account, err)
	}

	return nil
}

// MutableDocuments returns documents whose cancel or reject deadline is after
// now and whose stored status is not final.
func (s *SQLiteStore) MutableDocuments(ctx context.Context, partition invoice.Direction, now time.Time) ([]MutableDoc, error) {
	st, err := s.statements(partition)
	if err != nil {
		return nil, err
	}

	nowArg := sqliteDialect.timeArg(now)

	rows, err := s.db.QueryContext(ctx, st.mutable, nowArg, nowArg)
	if err != nil {
		return nil, fmt.Errorf("store: listing mutable documents: %w", err)
	}
	defer rows.Close()

	var out []MutableDoc

	for rows.Next() {
		var m MutableDoc
		if err := rows.Scan(&m.UUID, &m.Status); err != nil {
			return nil, fmt.Errorf("store: scanning mutable document: %w", err)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating mutable documents: %w", err)
	}

	return out, nil
}

// Count returns the number of stored documents in the partition.
func (s *SQLiteStore) Count(ctx context.Context, partition invoice.Direction) (int, error) {
	st, err := s.statements(partition)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, st.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting documents: %w", err)
	}

	return n, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx    *sql.Tx
	store *SQLiteStore
}

// Upsert writes the header and replaces its lines.
func (t *sqliteTx) Upsert(ctx context.Context, doc *invoice.Document, partition invoice.Direction) error {
	st, err := t.store.statements(partition)
	if err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, st.upsertDoc, documentArgs(sqliteDialect, doc, t.store.nowFunc())...); err != nil {
		return fmt.Errorf("store: upserting %s: %w", doc.UUID, err)
	}

	if _, err := t.tx.ExecContext(ctx, st.deleteLines, doc.UUID); err != nil {
		return fmt.Errorf("store: clearing lines of %s: %w", doc.UUID, err)
	}

	for i := range doc.Lines {
		if _, err := t.tx.ExecContext(ctx, st.insertLine, lineArgs(doc.UUID, i+1, &doc.Lines[i])...); err != nil {
			return fmt.Errorf("store: inserting line %d of %s: %w", i+1, doc.UUID, err)
		}
	}

	return nil
}

func (t *sqliteTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store: committing: %w", err)
	}

	return nil
}

func (t *sqliteTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rolling back: %w", err)
	}

	return nil
}
