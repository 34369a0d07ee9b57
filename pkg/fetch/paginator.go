package fetch

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lighter-tools/lighter-history/pkg/client"
	"github.com/lighter-tools/lighter-history/pkg/enrich"
	"github.com/lighter-tools/lighter-history/pkg/ratelimit"
)

// DefaultMaxPages bounds one pagination loop, guarding against a looping
// or misbehaving upstream cursor.
const DefaultMaxPages = 500

// PageSource fetches a single page. Implemented by *client.Client;
// tests inject canned pages.
type PageSource interface {
	FetchPage(ctx context.Context, q client.PageQuery) (*client.RawPage, error)
}

// Paginator drives successive page requests for one (account, data type,
// filter) tuple, pacing every request through the shared pacer.
type Paginator struct {
	source   PageSource
	pacer    *ratelimit.Pacer
	maxPages int
	logger   zerolog.Logger
}

// PaginatorOption configures a Paginator.
type PaginatorOption func(*Paginator)

// WithMaxPages overrides the defensive page bound.
func WithMaxPages(n int) PaginatorOption {
	return func(p *Paginator) {
		p.maxPages = n
	}
}

// NewPaginator creates a paginator over the given page source and pacer.
func NewPaginator(source PageSource, pacer *ratelimit.Pacer, opts ...PaginatorOption) *Paginator {
	p := &Paginator{
		source:   source,
		pacer:    pacer,
		maxPages: DefaultMaxPages,
		logger:   log.With().Str("component", "paginator").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream starts a lazy page sequence for one task. Calling Stream again
// restarts from the beginning; an in-progress stream cannot be resumed.
func (p *Paginator) Stream(account enrich.Account, dt DataType, token string, req FetchRequest) *PageStream {
	path, recordsKey := dt.endpoint()

	filters := url.Values{}
	if req.MarketFilter != "" && (dt == DataTypeTrades || dt == DataTypeFunding) {
		filters.Set("market_type", req.MarketFilter)
	}
	if req.Direction != "" && dt == DataTypeTransfers {
		filters.Set("direction", req.Direction)
	}

	return &PageStream{
		paginator: p,
		class:     dt.PaceClass(),
		query: client.PageQuery{
			Path:         path,
			RecordsKey:   recordsKey,
			AccountIndex: account.Index,
			Auth:         token,
			Start:        req.Start,
			End:          req.End,
			Filters:      filters,
		},
	}
}

// PageStream is one in-progress pagination loop.
type PageStream struct {
	paginator *Paginator
	class     string
	query     client.PageQuery
	page      int
	done      bool
}

// Next fetches the next page. It acquires a pacer slot before every request,
// including the first. Returns ErrNoMorePages on normal exhaustion and
// ErrTruncatedFetch when the defensive page bound is hit; any other error is
// the underlying fetch failure after the client's retry budget.
func (s *PageStream) Next(ctx context.Context) (*client.RawPage, error) {
	if s.done {
		return nil, ErrNoMorePages
	}

	if s.page >= s.paginator.maxPages {
		s.done = true
		s.paginator.logger.Warn().
			Str("data_type", s.class).
			Int64("account_index", s.query.AccountIndex).
			Int("pages", s.page).
			Msg("Page bound hit, truncating fetch")
		return nil, ErrTruncatedFetch
	}

	if err := s.paginator.pacer.Acquire(ctx, s.class); err != nil {
		s.done = true
		return nil, err
	}

	page, err := s.paginator.source.FetchPage(ctx, s.query)
	if err != nil {
		s.done = true
		return nil, err
	}

	s.page++
	s.query.Cursor = page.NextCursor

	// Exhaustion: absent continuation cursor or an empty page.
	if page.NextCursor == "" || len(page.Records) == 0 {
		s.done = true
	}

	s.paginator.logger.Debug().
		Str("data_type", s.class).
		Int64("account_index", s.query.AccountIndex).
		Int("page", s.page).
		Int("records", len(page.Records)).
		Bool("exhausted", s.done).
		Msg("Fetched page")

	return page, nil
}
