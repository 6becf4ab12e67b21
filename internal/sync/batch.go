package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// errAuthLost marks a run whose credentials stopped working after init.
// It ends the account's run instead of queueing every remaining id.
var errAuthLost = errors.New("sync: authentication lost")

func authFailure(err error) bool {
	return errors.Is(err, eta.ErrAuth) || errors.Is(err, eta.ErrUnauthorized)
}

// newestTracker remembers the newest committed document of a run.
type newestTracker struct {
	cursor store.Cursor
	seen   bool
}

func (n *newestTracker) observe(doc *invoice.Document) {
	c := store.Cursor{Timestamp: doc.ReceivedAt, UUID: doc.UUID, InternalID: doc.InternalID}
	if !n.seen || c.After(n.cursor) {
		n.cursor = c
		n.seen = true
	}
}

func (n *newestTracker) newest() (store.Cursor, bool) {
	return n.cursor, n.seen
}

// batchResult is the outcome of one batch. Every input id ends up in
// exactly one of Stored or Failed.
type batchResult struct {
	Stored []storedDoc
	Failed []string
	// Err is the cause of a rollback, nil after a commit.
	Err error
}

type storedDoc struct {
	UUID      string
	Partition invoice.Direction
}

// partitionFunc picks the table pair a fetched document lands in.
type partitionFunc func(doc *invoice.Document) invoice.Direction

func fixedPartition(p invoice.Direction) partitionFunc {
	return func(*invoice.Document) invoice.Direction { return p }
}

// batchWriter fetches details and stores them, one transaction per batch.
type batchWriter struct {
	api    DocumentAPI
	store  Store
	newest *newestTracker
	logger *slog.Logger
}

// write fetches every id and commits the fetched documents together. A
// fetch failure only loses that id. A malformed payload, a storage error,
// an auth failure or cancellation rolls back the batch and loses all of
// them; an auth failure is reported as errAuthLost.
func (b *batchWriter) write(ctx context.Context, ids []string, partitionFor partitionFunc) batchResult {
	if len(ids) == 0 {
		return batchResult{}
	}

	tx, err := b.store.Begin(ctx)
	if err != nil {
		return b.abort(ctx, nil, ids, fmt.Errorf("sync: beginning batch: %w", err))
	}

	var (
		staged []*invoice.Document
		parts  []invoice.Direction
		failed []string
	)

	for _, id := range ids {
		if ctx.Err() != nil {
			return b.abort(ctx, tx, ids, ctx.Err())
		}

		doc, err := b.api.Document(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return b.abort(ctx, tx, ids, ctx.Err())
			}

			if authFailure(err) {
				return b.abort(ctx, tx, ids, fmt.Errorf("%w: document %s: %w", errAuthLost, id, err))
			}

			if errors.Is(err, eta.ErrMalformed) {
				return b.abort(ctx, tx, ids, fmt.Errorf("sync: document %s: %w", id, err))
			}

			b.logger.Warn("document fetch failed, queued for retry",
				slog.String("uuid", id),
				slog.String("error", err.Error()),
			)

			failed = append(failed, id)

			continue
		}

		p := partitionFor(doc)
		if err := tx.Upsert(ctx, doc, p); err != nil {
			if ctx.Err() != nil {
				return b.abort(ctx, tx, ids, ctx.Err())
			}

			return b.abort(ctx, tx, ids, fmt.Errorf("sync: staging %s: %w", id, err))
		}

		staged = append(staged, doc)
		parts = append(parts, p)
	}

	if err := tx.Commit(ctx); err != nil {
		return b.abort(ctx, nil, ids, fmt.Errorf("sync: committing batch: %w", err))
	}

	res := batchResult{Failed: failed, Stored: make([]storedDoc, len(staged))}

	for i, doc := range staged {
		b.newest.observe(doc)
		res.Stored[i] = storedDoc{UUID: doc.UUID, Partition: parts[i]}
	}

	return res
}

// abort rolls back tx (when still open) and fails every id of the batch.
func (b *batchWriter) abort(ctx context.Context, tx store.Tx, ids []string, cause error) batchResult {
	if tx != nil {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("batch rollback failed", slog.String("error", err.Error()))
		}
	}

	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		b.logger.Warn("batch rolled back",
			slog.Int("documents", len(ids)),
			slog.String("error", cause.Error()),
		)
	}

	return batchResult{Failed: append([]string(nil), ids...), Err: cause}
}
