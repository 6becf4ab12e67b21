package sync

import (
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
	"github.com/MSBasha93/ETA-Invetcher/internal/store"
)

// DefaultLookbackDays is how far back a first run starts when neither a
// cursor nor an oldest invoice date is known.
const DefaultLookbackDays = 30

// runRange returns the first and last calendar day a run discovers. The
// start is the cursor's local day when a cursor exists, else the oldest
// known invoice date, else today minus lookbackDays. The end is today.
// Explicit From/To replace either bound.
func runRange(
	cursor store.Cursor, hasCursor bool, oldest time.Time, now time.Time,
	loc *time.Location, lookbackDays int, opts RunOpts,
) (time.Time, time.Time) {
	today := invoice.DayOf(now.In(loc))

	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	var start time.Time

	switch {
	case hasCursor:
		start = invoice.DayOf(cursor.Timestamp.In(loc))
	case !oldest.IsZero():
		start = invoice.DayOf(oldest)
	default:
		start = today.AddDate(0, 0, -lookbackDays)
	}

	end := today

	if !opts.From.IsZero() {
		start = invoice.DayOf(opts.From)
	}

	if !opts.To.IsZero() {
		end = invoice.DayOf(opts.To)
	}

	return start, end
}
