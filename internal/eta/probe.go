package eta

import (
	"context"
	"log/slog"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// Probe parameters: 30-day windows, three back for the newest document and
// sixty (about five years) for the oldest.
const (
	probeWindow       = 30 * 24 * time.Hour
	newestProbeWindow = 3
	oldestProbeWindow = 60
)

// FindNewest walks 30-day windows backwards from now and returns the received
// time of the first hit. ok is false when nothing turned up in the last 90
// days.
func (c *Client) FindNewest(ctx context.Context, now time.Time) (time.Time, bool, error) {
	end := now.UTC()

	for range newestProbeWindow {
		start := end.Add(-probeWindow)

		s, found, err := c.probe(ctx, start, end)
		if err != nil {
			return time.Time{}, false, err
		}

		if found {
			return s.ReceivedAt, true, nil
		}

		end = start
	}

	c.logger.Info("no documents found in the last 90 days")

	return time.Time{}, false, nil
}

// FindOldest walks 30-day windows backwards until a window comes back empty
// after at least one hit, and returns the received time seen in the last
// non-empty window. Registry results are unordered within a window, so the
// answer is accurate to the window, which is all the start date needs.
func (c *Client) FindOldest(ctx context.Context, now time.Time) (time.Time, bool, error) {
	end := now.UTC()

	var (
		last  time.Time
		found bool
	)

	for range oldestProbeWindow {
		start := end.Add(-probeWindow)

		s, hit, err := c.probe(ctx, start, end)
		if err != nil {
			return time.Time{}, false, err
		}

		if !hit {
			if found {
				return last, true, nil
			}

			return time.Time{}, false, nil
		}

		last = s.ReceivedAt
		found = true
		end = start
	}

	c.logger.Warn("documents found in every probed window", slog.Int("windows", oldestProbeWindow))

	return last, found, nil
}

func (c *Client) probe(ctx context.Context, start, end time.Time) (invoice.Summary, bool, error) {
	c.logger.Debug("probing window",
		slog.String("from", start.Format(invoice.DateLayout)),
		slog.String("to", end.Format(invoice.DateLayout)),
	)

	page, err := c.Search(ctx, SearchQuery{From: start, To: end, PageSize: 1})
	if err != nil {
		return invoice.Summary{}, false, err
	}

	for _, s := range page.Summaries {
		if s.UUID != "" && !s.ReceivedAt.IsZero() {
			return s, true, nil
		}
	}

	return invoice.Summary{}, false, nil
}
