// Package store persists normalized documents, their lines and the per-account
// sync cursor. Two backends share one schema: SQLite (modernc, the default
// for single-machine use) and PostgreSQL (pgx). Inbound and outbound
// documents live in separate table pairs, selected by invoice.Direction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrBadPartition   = errors.New("store: unknown partition")
	ErrUnsupportedDSN = errors.New("store: unsupported DSN")
)

// Cursor is the per-account high-water mark.
type Cursor struct {
	Timestamp  time.Time
	UUID       string
	InternalID string
}

// After reports whether c is strictly newer than other. Ties on timestamp are
// broken by UUID so the ordering is total.
func (c Cursor) After(other Cursor) bool {
	if !c.Timestamp.Equal(other.Timestamp) {
		return c.Timestamp.After(other.Timestamp)
	}

	return c.UUID > other.UUID
}

// MutableDoc is a stored document whose status may still change remotely.
type MutableDoc struct {
	UUID   string
	Status string
}

// Tx stages document writes for one batch.
type Tx interface {
	Upsert(ctx context.Context, doc *invoice.Document, partition invoice.Direction) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is what Open returns. The sync engine consumes a narrower
// interface of its own.
type Backend interface {
	ExistsBatch(ctx context.Context, ids []string, partition invoice.Direction) (map[string]bool, error)
	Begin(ctx context.Context) (Tx, error)
	UpdateStatus(ctx context.Context, uuid, status, reason string, partition invoice.Direction) error
	GetCursor(ctx context.Context, account string) (Cursor, bool, error)
	SetCursor(ctx context.Context, account string, c Cursor) error
	MutableDocuments(ctx context.Context, partition invoice.Direction, now time.Time) ([]MutableDoc, error)
	Count(ctx context.Context, partition invoice.Direction) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// tableNames maps a partition to its document and line tables.
func tableNames(p invoice.Direction) (docs, lines string, err error) {
	switch p {
	case invoice.Inbound:
		return "documents", "document_lines", nil
	case invoice.Outbound:
		return "sent_documents", "sent_document_lines", nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrBadPartition, p)
	}
}
