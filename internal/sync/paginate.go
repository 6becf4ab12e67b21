package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/eta"
	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// paginate collects every search hit of one window. Nothing is returned on
// error: a window is either fully listed or reported as failed, never half
// processed.
func paginate(
	ctx context.Context, api DocumentAPI, w invoice.Window, loc *time.Location, pageSize int, logger *slog.Logger,
) ([]invoice.Summary, error) {
	from, to := w.Bounds(loc)
	seen := make(map[string]bool)

	var (
		out   []invoice.Summary
		token string
		pages int
	)

	for {
		page, err := api.Search(ctx, eta.SearchQuery{
			From:              from,
			To:                to,
			Direction:         w.Direction,
			PageSize:          pageSize,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("sync: searching %s page %d: %w", w, pages+1, err)
		}

		pages++

		for _, s := range page.Summaries {
			if s.UUID == "" {
				logger.Warn("search hit without uuid skipped",
					slog.String("window", w.String()),
					slog.Int("page", pages),
				)

				continue
			}

			if seen[s.UUID] {
				continue
			}

			seen[s.UUID] = true
			s.Direction = w.Direction
			out = append(out, s)
		}

		if page.Last() {
			break
		}

		if page.ContinuationToken == token {
			return nil, fmt.Errorf("sync: searching %s: %w: continuation token repeated", w, eta.ErrMalformed)
		}

		token = page.ContinuationToken
	}

	logger.Debug("window listed",
		slog.String("window", w.String()),
		slog.Int("pages", pages),
		slog.Int("documents", len(out)),
	)

	return out, nil
}

// filterNew returns the ids not yet stored in partition, in input order.
func filterNew(ctx context.Context, st Store, ids []string, partition invoice.Direction) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	exists, err := st.ExistsBatch(ctx, ids, partition)
	if err != nil {
		return nil, fmt.Errorf("sync: checking existing documents: %w", err)
	}

	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if !exists[id] {
			out = append(out, id)
		}
	}

	return out, nil
}
