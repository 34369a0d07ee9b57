package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lighter-tools/lighter-history/pkg/enrich"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_fetch_tasks_total",
		Help: "Fetch tasks by data type and terminal status",
	}, []string{"data_type", "status"})

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_fetch_pages_total",
		Help: "Pages fetched by data type",
	}, []string{"data_type"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_fetch_records_total",
		Help: "Records returned to callers by data type",
	}, []string{"data_type"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lighter_fetch_task_duration_seconds",
		Help:    "Wall time of one (account, data type) fetch task",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"data_type"})
)

// Coordinator fans a fetch request out into one task per (account, data
// type) pair and collects the per-task results into a Report. Tasks fail
// independently; one account's upstream fault never aborts a sibling.
type Coordinator struct {
	paginator *Paginator
	enricher  *enrich.Enricher
	tokens    TokenSource
	logger    zerolog.Logger
}

// NewCoordinator wires a coordinator over the paginator, enricher and
// token source.
func NewCoordinator(paginator *Paginator, enricher *enrich.Enricher, tokens TokenSource) *Coordinator {
	return &Coordinator{
		paginator: paginator,
		enricher:  enricher,
		tokens:    tokens,
		logger:    log.With().Str("component", "coordinator").Logger(),
	}
}

// Run executes the request and blocks until every task reached a terminal
// state. A validation failure rejects the whole request before any task
// starts; every other failure is scoped to its task and surfaces through
// FetchResult.Status. Cancelling ctx stops all tasks; records from pages
// already fetched are kept and enriched.
func (c *Coordinator) Run(ctx context.Context, req FetchRequest) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	logger := c.logger.With().Str("request_id", req.ID.String()).Logger()
	logger.Info().
		Int("accounts", len(req.Accounts)).
		Int("data_types", len(req.Types)).
		Msg("Starting fetch request")

	results := make(chan *FetchResult)
	var wg sync.WaitGroup
	for _, account := range req.Accounts {
		for _, dt := range req.Types {
			wg.Add(1)
			go func(account enrich.Account, dt DataType) {
				defer wg.Done()
				results <- c.runTask(ctx, req, account, dt)
			}(account, dt)
		}
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	report := &Report{
		RequestID: req.ID,
		Results:   make(map[ResultKey]*FetchResult, len(req.Accounts)*len(req.Types)),
		OK:        true,
	}
	for result := range results {
		key := ResultKey{Account: result.Account, Type: result.dataType}
		report.Results[key] = result
		if !result.Status.ok() {
			report.OK = false
		}
	}

	logger.Info().Bool("ok", report.OK).Int("tasks", len(report.Results)).Msg("Fetch request finished")
	return report, nil
}

// runTask paginates one (account, data type) pair to a terminal state and
// enriches whatever was accumulated, whether the pagination completed,
// truncated, failed or was cancelled.
func (c *Coordinator) runTask(ctx context.Context, req FetchRequest, account enrich.Account, dt DataType) *FetchResult {
	start := time.Now()
	logger := c.logger.With().
		Str("request_id", req.ID.String()).
		Int64("account_index", account.Index).
		Str("data_type", dt.String()).
		Logger()

	result := &FetchResult{
		Account:  account,
		Type:     dt.String(),
		dataType: dt,
	}

	var raws []json.RawMessage
	var terminal error

	token, err := c.tokens.Token(ctx, account)
	if err != nil {
		terminal = fmt.Errorf("%w: resolve auth token: %w", ErrValidation, err)
	} else {
		stream := c.paginator.Stream(account, dt, token, req)
		for {
			page, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, ErrNoMorePages) {
					break
				}
				terminal = taxonomyError(err)
				break
			}
			result.Pages++
			pagesTotal.WithLabelValues(dt.String()).Inc()
			raws = append(raws, page.Records...)
		}
	}

	c.finalize(ctx, result, account, dt, raws, terminal)

	taskDuration.WithLabelValues(dt.String()).Observe(time.Since(start).Seconds())
	tasksTotal.WithLabelValues(dt.String(), string(result.Status)).Inc()
	recordsTotal.WithLabelValues(dt.String()).Add(float64(result.Len()))

	event := logger.Info()
	if !result.Status.ok() {
		event = logger.Warn().Str("reason", result.Reason)
	}
	event.
		Str("status", string(result.Status)).
		Int("pages", result.Pages).
		Int("records", result.Len()).
		Msg("Task finished")

	return result
}

// finalize decodes and enriches the accumulated raw records and assigns the
// terminal status. Enrichment runs even for cancelled and truncated tasks
// so the caller receives exactly the pages fetched so far.
func (c *Coordinator) finalize(ctx context.Context, result *FetchResult, account enrich.Account, dt DataType, raws []json.RawMessage, terminal error) {
	decodeErr := c.decodeAndEnrich(ctx, result, account, dt, raws)
	if terminal == nil && decodeErr != nil {
		terminal = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, decodeErr)
	}

	switch {
	case terminal == nil && result.Len() == 0:
		result.Status = StatusEmpty
	case terminal == nil:
		result.Status = StatusComplete
	case errors.Is(terminal, ErrCancelled):
		result.Status = StatusCancelled
	case errors.Is(terminal, ErrTruncatedFetch):
		result.Status = StatusTruncated
	default:
		result.Status = StatusPartialFailure
	}
	if terminal != nil {
		result.Reason = terminal.Error()
	}
}

// decodeAndEnrich routes the raw records through the data type's decoder
// and enrichment path. A record that fails to decode fails the task; the
// upstream schema changing under us is not silently droppable.
func (c *Coordinator) decodeAndEnrich(ctx context.Context, result *FetchResult, account enrich.Account, dt DataType, raws []json.RawMessage) error {
	if len(raws) == 0 {
		return nil
	}

	switch dt {
	case DataTypeTrades:
		trades, err := enrich.DecodeTrades(raws)
		if err != nil {
			return fmt.Errorf("decode trades: %w", err)
		}
		result.Trades = c.enricher.Trades(ctx, account, trades)
	case DataTypeFunding:
		fundings, err := enrich.DecodeFundings(raws)
		if err != nil {
			return fmt.Errorf("decode fundings: %w", err)
		}
		result.Fundings = c.enricher.Fundings(ctx, account, fundings)
	default:
		kind, ok := dt.transferKind()
		if !ok {
			return fmt.Errorf("no decoder for data type %q", dt)
		}
		transfers, err := enrich.DecodeTransfers(raws)
		if err != nil {
			return fmt.Errorf("decode %s: %w", dt, err)
		}
		result.Transfers = c.enricher.Transfers(ctx, account, kind, transfers)
	}

	return nil
}
