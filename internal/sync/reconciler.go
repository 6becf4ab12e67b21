package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// statusChange is one stored document whose remote status moved.
type statusChange struct {
	UUID      string
	Status    string
	Reason    string
	Partition invoice.Direction
}

// reconciler re-fetches stored documents that are still inside their
// cancel or reject deadline and writes back status changes.
type reconciler struct {
	api    DocumentAPI
	store  Store
	logger *slog.Logger
}

// run checks every mutable document of both partitions. Individual
// failures are logged and skipped; only cancellation stops it early, in
// which case no update is written.
func (r *reconciler) run(ctx context.Context, now time.Time) (int, error) {
	var changes []statusChange

	for _, p := range invoice.Directions {
		docs, err := r.store.MutableDocuments(ctx, p, now)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}

			r.logger.Warn("listing mutable documents failed",
				slog.String("partition", p.String()),
				slog.String("error", err.Error()),
			)

			continue
		}

		r.logger.Debug("reconciling statuses",
			slog.String("partition", p.String()),
			slog.Int("documents", len(docs)),
		)

		for _, m := range docs {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}

			doc, err := r.api.Document(ctx, m.UUID)
			if err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}

				if authFailure(err) {
					return 0, fmt.Errorf("%w: re-fetching %s: %w", errAuthLost, m.UUID, err)
				}

				r.logger.Warn("status re-fetch failed",
					slog.String("uuid", m.UUID),
					slog.String("error", err.Error()),
				)

				continue
			}

			if doc.Status != m.Status {
				changes = append(changes, statusChange{
					UUID: m.UUID, Status: doc.Status, Reason: doc.StatusReason, Partition: p,
				})
			}
		}
	}

	// All re-fetches finish before the first write.
	updated := 0

	for _, c := range changes {
		if err := r.store.UpdateStatus(ctx, c.UUID, c.Status, c.Reason, c.Partition); err != nil {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}

			r.logger.Warn("status update failed",
				slog.String("uuid", c.UUID),
				slog.String("error", err.Error()),
			)

			continue
		}

		r.logger.Info("document status changed",
			slog.String("uuid", c.UUID),
			slog.String("status", c.Status),
		)

		updated++
	}

	return updated, nil
}
