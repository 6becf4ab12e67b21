package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// retryQueue drains the id failures of earlier runs before discovery
// starts. Ids already stored are dropped without an API call.
type retryQueue struct {
	store  Store
	writer *batchWriter
	taxID  string
	logger *slog.Logger
}

// retryOutcome is what phase 0 did with the persisted id queue.
type retryOutcome struct {
	Remaining []invoice.RetryEntry
	Stored    []storedDoc
	Resolved  int
	// Err is errAuthLost when the queue stopped on an auth failure.
	Err error
}

// process retries every entry. Entries are grouped by partition so each
// partition costs one existence check and one batch. Entries without a
// direction are checked against both partitions and stored where the
// issuer says they belong.
func (q *retryQueue) process(ctx context.Context, entries []invoice.RetryEntry) retryOutcome {
	entries = uniqueEntries(entries)
	if len(entries) == 0 {
		return retryOutcome{}
	}

	groups := make(map[invoice.Direction][]string)
	for _, e := range entries {
		groups[e.Direction] = append(groups[e.Direction], e.UUID)
	}

	var out retryOutcome

	resolved := make(map[string]bool)

	for _, dir := range []invoice.Direction{invoice.Inbound, invoice.Outbound, invoice.DirectionUnknown} {
		ids := groups[dir]
		if len(ids) == 0 {
			continue
		}

		if ctx.Err() != nil {
			break
		}

		pending := q.dropStored(ctx, ids, dir, resolved)

		partitionFor := fixedPartition(dir)
		if dir == invoice.DirectionUnknown {
			partitionFor = q.inferPartition
		}

		res := q.writer.write(ctx, pending, partitionFor)
		for _, s := range res.Stored {
			resolved[s.UUID] = true
		}

		out.Stored = append(out.Stored, res.Stored...)

		if errors.Is(res.Err, errAuthLost) {
			out.Err = res.Err
			break
		}
	}

	for _, e := range entries {
		if !resolved[e.UUID] {
			out.Remaining = append(out.Remaining, e)
		}
	}

	out.Resolved = len(entries) - len(out.Remaining)

	q.logger.Info("retry queue processed",
		slog.Int("entries", len(entries)),
		slog.Int("resolved", out.Resolved),
		slog.Int("remaining", len(out.Remaining)),
	)

	return out
}

// dropStored marks ids already present as resolved and returns the rest.
// On a storage error every id is kept.
func (q *retryQueue) dropStored(ctx context.Context, ids []string, dir invoice.Direction, resolved map[string]bool) []string {
	partitions := []invoice.Direction{dir}
	if dir == invoice.DirectionUnknown {
		partitions = invoice.Directions
	}

	pending := ids

	for _, p := range partitions {
		next, err := filterNew(ctx, q.store, pending, p)
		if err != nil {
			q.logger.Warn("retry existence check failed",
				slog.String("partition", p.String()),
				slog.String("error", err.Error()),
			)

			return pending
		}

		pending = next
	}

	kept := make(map[string]bool, len(pending))
	for _, id := range pending {
		kept[id] = true
	}

	for _, id := range ids {
		if !kept[id] {
			resolved[id] = true
		}
	}

	return pending
}

// inferPartition stores a document as outbound when the account issued it.
func (q *retryQueue) inferPartition(doc *invoice.Document) invoice.Direction {
	if q.taxID != "" && doc.Issuer.ID == q.taxID {
		return invoice.Outbound
	}

	return invoice.Inbound
}

// uniqueEntries drops repeated ids, keeping the first entry.
func uniqueEntries(entries []invoice.RetryEntry) []invoice.RetryEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]invoice.RetryEntry, 0, len(entries))

	for _, e := range entries {
		if e.UUID == "" || seen[e.UUID] {
			continue
		}

		seen[e.UUID] = true
		out = append(out, e)
	}

	return out
}

// mergeEntries returns a ∪ b without repeated ids, a first.
func mergeEntries(a, b []invoice.RetryEntry) []invoice.RetryEntry {
	return uniqueEntries(append(append([]invoice.RetryEntry(nil), a...), b...))
}

// mergeWindows returns a ∪ b without repeats, a first.
func mergeWindows(a, b []invoice.Window) []invoice.Window {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]invoice.Window, 0, len(a)+len(b))

	for _, w := range append(append([]invoice.Window(nil), a...), b...) {
		key := w.String()
		if seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, w)
	}

	return out
}
