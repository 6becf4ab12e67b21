package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/MSBasha93/ETA-Invetcher/internal/invoice"
)

// EndOfResultSet is the continuation token the registry returns on the last
// page.
const EndOfResultSet = "EndofResultSet"

// DefaultPageSize is the search page size used by the sync engine.
const DefaultPageSize = 100

// searchTimeLayout is the registry's submissionDate format (UTC, seconds).
const searchTimeLayout = "2006-01-02T15:04:05Z"

const (
	searchPath = "/api/v1.0/documents/search"
	detailPath = "/api/v1.0/documents/%s/details"
)

// SearchQuery selects one page of search results.
type SearchQuery struct {
	From              time.Time
	To                time.Time
	Direction         invoice.Direction
	PageSize          int
	ContinuationToken string
}

// SearchPage is one page of results. Summaries with an empty UUID are passed
// through; callers decide how to report them.
type SearchPage struct {
	Summaries         []invoice.Summary
	ContinuationToken string
}

// Last reports whether no further page follows.
func (p *SearchPage) Last() bool {
	return p.ContinuationToken == "" || p.ContinuationToken == EndOfResultSet
}

// Search fetches one page. A 400 from the search endpoint means an empty
// window and is returned as an empty last page.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	params := url.Values{}
	params.Set("submissionDateFrom", q.From.UTC().Format(searchTimeLayout))
	params.Set("submissionDateTo", q.To.UTC().Format(searchTimeLayout))

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	params.Set("pageSize", strconv.Itoa(pageSize))

	if q.ContinuationToken != "" {
		params.Set("continuationToken", q.ContinuationToken)
	}

	if q.Direction != invoice.DirectionUnknown {
		params.Set("direction", q.Direction.String())
	}

	body, err := c.get(ctx, searchPath, params)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			c.logger.Debug("search returned bad request, treating as empty",
				slog.String("from", params.Get("submissionDateFrom")),
				slog.String("direction", q.Direction.String()),
			)

			return &SearchPage{}, nil
		}

		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %w", ErrMalformed, err)
	}

	page := &SearchPage{
		Summaries:         make([]invoice.Summary, 0, len(resp.Result)),
		ContinuationToken: resp.Metadata.ContinuationToken,
	}

	for _, r := range resp.Result {
		s := invoice.Summary{UUID: string(r.UUID), Direction: q.Direction}
		if ts := firstNonEmpty(r.DateTimeReceived, r.DateTimeRecevied); ts != "" {
			if t, err := ParseTimestamp(ts); err == nil {
				s.ReceivedAt = t
			}
		}

		page.Summaries = append(page.Summaries, s)
	}

	return page, nil
}

// Document fetches and normalizes one detail payload.
func (c *Client) Document(ctx context.Context, uuid string) (*invoice.Document, error) {
	body, err := c.get(ctx, fmt.Sprintf(detailPath, url.PathEscape(uuid)), nil)
	if err != nil {
		return nil, err
	}

	doc, err := NormalizeDocument(body)
	if err != nil {
		return nil, err
	}

	if doc.UUID != uuid {
		return nil, fmt.Errorf("%w: requested %s, got %s", ErrMalformed, uuid, doc.UUID)
	}

	return doc, nil
}
