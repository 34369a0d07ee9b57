package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lighter-tools/lighter-history/pkg/client"
	"github.com/lighter-tools/lighter-history/pkg/enrich"
	"github.com/lighter-tools/lighter-history/pkg/markets"
	"github.com/lighter-tools/lighter-history/pkg/ratelimit"
)

var testAccount = enrich.Account{L1Address: "0xabc", Index: 7}

// fakeSource serves canned pages keyed by (account, path). Cursors encode
// the next page index, mirroring how the upstream chains pages.
type fakeSource struct {
	mu     sync.Mutex
	pages  map[string][][]json.RawMessage
	errOn  map[string]error
	calls  map[string]int
	seen   []client.PageQuery
	onCall func(key string, call int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[string][][]json.RawMessage),
		errOn: make(map[string]error),
		calls: make(map[string]int),
	}
}

func sourceKey(accountIndex int64, path string) string {
	return fmt.Sprintf("%d:%s", accountIndex, path)
}

func (f *fakeSource) FetchPage(ctx context.Context, q client.PageQuery) (*client.RawPage, error) {
	f.mu.Lock()
	key := sourceKey(q.AccountIndex, q.Path)
	f.calls[key]++
	call := f.calls[key]
	f.seen = append(f.seen, q)
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(key, call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errOn[key]; ok {
		return nil, err
	}

	pages := f.pages[key]
	idx := 0
	if q.Cursor != "" {
		idx, _ = strconv.Atoi(q.Cursor)
	}
	if idx >= len(pages) {
		return &client.RawPage{}, nil
	}

	page := &client.RawPage{Records: pages[idx]}
	if idx+1 < len(pages) {
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (f *fakeSource) callCount(accountIndex int64, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sourceKey(accountIndex, path)]
}

func (f *fakeSource) queries() []client.PageQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.PageQuery(nil), f.seen...)
}

// fastPacer returns a pacer that admits every request immediately.
func fastPacer() *ratelimit.Pacer {
	intervals := make(map[string]time.Duration, len(AllDataTypes))
	for _, dt := range AllDataTypes {
		intervals[dt.PaceClass()] = time.Nanosecond
	}
	return ratelimit.NewPacer(intervals)
}

// rawTradeJSON is a buy trade for testAccount on market 1.
func rawTradeJSON(id, ts int64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"trade_id":%d,"market_id":1,"size":"1","price":"100","usd_amount":"100","timestamp":%d,`+
			`"bid_account_id":7,"ask_account_id":9,"is_maker_ask":true,"taker_fee":"450","maker_fee":"0",`+
			`"type":"trade","tx_hash":"0xdeadbeef"}`, id, ts))
}

func rawTransferJSON(id string, ts int64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"timestamp":%d,"amount":"250.5","tx_hash":"0xfeed","to_account_index":7,"status":"completed"}`,
		id, ts))
}

type stubMarketSource struct{}

func (stubMarketSource) OrderBookDetails(context.Context) (map[int64]string, error) {
	return map[int64]string{1: "BTC-PERP", 2: "ETH-PERP"}, nil
}

func newTestEnricher() *enrich.Enricher {
	return enrich.NewEnricher(markets.NewResolver(stubMarketSource{}))
}

func TestPageStream_WalksCursorsToExhaustion(t *testing.T) {
	source := newFakeSource()
	key := sourceKey(testAccount.Index, "/api/v1/trades")
	source.pages[key] = [][]json.RawMessage{
		{rawTradeJSON(1, 1000), rawTradeJSON(2, 2000)},
		{rawTradeJSON(3, 3000)},
		{rawTradeJSON(4, 4000)},
	}

	paginator := NewPaginator(source, fastPacer())
	stream := paginator.Stream(testAccount, DataTypeTrades, "token", FetchRequest{})

	var total int
	for i := 0; i < 3; i++ {
		page, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("page %d: unexpected error: %v", i+1, err)
		}
		total += len(page.Records)
	}
	if total != 4 {
		t.Errorf("expected 4 records across pages, got %d", total)
	}

	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrNoMorePages) {
		t.Errorf("expected ErrNoMorePages after exhaustion, got %v", err)
	}

	queries := source.queries()
	cursors := []string{queries[0].Cursor, queries[1].Cursor, queries[2].Cursor}
	want := []string{"", "1", "2"}
	for i := range want {
		if cursors[i] != want[i] {
			t.Errorf("request %d: expected cursor %q, got %q", i+1, want[i], cursors[i])
		}
	}
}

func TestPageStream_EmptyPageTerminates(t *testing.T) {
	source := newFakeSource()
	key := sourceKey(testAccount.Index, "/api/v1/trades")
	// First page is empty but carries a cursor; the stream must stop anyway.
	source.pages[key] = [][]json.RawMessage{
		{},
		{rawTradeJSON(1, 1000)},
	}

	paginator := NewPaginator(source, fastPacer())
	stream := paginator.Stream(testAccount, DataTypeTrades, "token", FetchRequest{})

	page, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != 0 {
		t.Fatalf("expected empty page, got %d records", len(page.Records))
	}

	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrNoMorePages) {
		t.Errorf("expected ErrNoMorePages after empty page, got %v", err)
	}
	if got := source.callCount(testAccount.Index, "/api/v1/trades"); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}

func TestPageStream_TruncatesAtPageBound(t *testing.T) {
	source := newFakeSource()
	key := sourceKey(testAccount.Index, "/api/v1/trades")
	source.pages[key] = [][]json.RawMessage{
		{rawTradeJSON(1, 1000)},
		{rawTradeJSON(2, 2000)},
		{rawTradeJSON(3, 3000)},
		{rawTradeJSON(4, 4000)},
		{rawTradeJSON(5, 5000)},
	}

	paginator := NewPaginator(source, fastPacer(), WithMaxPages(2))
	stream := paginator.Stream(testAccount, DataTypeTrades, "token", FetchRequest{})

	for i := 0; i < 2; i++ {
		if _, err := stream.Next(context.Background()); err != nil {
			t.Fatalf("page %d: unexpected error: %v", i+1, err)
		}
	}

	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrTruncatedFetch) {
		t.Fatalf("expected ErrTruncatedFetch at page bound, got %v", err)
	}
	if got := source.callCount(testAccount.Index, "/api/v1/trades"); got != 2 {
		t.Errorf("expected 2 upstream calls, got %d", got)
	}
}

func TestPageStream_PacesEveryRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pacing test in short mode")
	}

	source := newFakeSource()
	key := sourceKey(testAccount.Index, "/api/v1/trades")
	source.pages[key] = [][]json.RawMessage{
		{rawTradeJSON(1, 1000)},
		{rawTradeJSON(2, 2000)},
		{rawTradeJSON(3, 3000)},
	}

	interval := 30 * time.Millisecond
	pacer := ratelimit.NewPacer(map[string]time.Duration{
		DataTypeTrades.PaceClass(): interval,
	})
	paginator := NewPaginator(source, pacer)
	stream := paginator.Stream(testAccount, DataTypeTrades, "token", FetchRequest{})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := stream.Next(context.Background()); err != nil {
			t.Fatalf("page %d: unexpected error: %v", i+1, err)
		}
	}

	// First request is immediate, the next two each wait one interval.
	if elapsed := time.Since(start); elapsed < 2*interval {
		t.Errorf("expected 3 paced requests to take at least %v, took %v", 2*interval, elapsed)
	}
}

func TestPageStream_QueryWiring(t *testing.T) {
	source := newFakeSource()
	start := time.UnixMilli(1700000000000).UTC()
	end := time.UnixMilli(1700003600000).UTC()
	req := FetchRequest{
		Start:        &start,
		End:          &end,
		MarketFilter: "perp",
		Direction:    DirectionIn,
	}

	paginator := NewPaginator(source, fastPacer())

	stream := paginator.Stream(testAccount, DataTypeTrades, "secret-token", req)
	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stream = paginator.Stream(testAccount, DataTypeTransfers, "secret-token", req)
	if _, err := stream.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	queries := source.queries()

	trades := queries[0]
	if trades.Auth != "secret-token" {
		t.Errorf("expected auth token forwarded, got %q", trades.Auth)
	}
	if trades.Start == nil || !trades.Start.Equal(start) {
		t.Errorf("expected start %v forwarded, got %v", start, trades.Start)
	}
	if trades.End == nil || !trades.End.Equal(end) {
		t.Errorf("expected end %v forwarded, got %v", end, trades.End)
	}
	if got := trades.Filters.Get("market_type"); got != "perp" {
		t.Errorf("expected market_type filter on trades, got %q", got)
	}
	if got := trades.Filters.Get("direction"); got != "" {
		t.Errorf("direction filter must not apply to trades, got %q", got)
	}

	transfers := queries[1]
	if got := transfers.Filters.Get("direction"); got != DirectionIn {
		t.Errorf("expected direction filter on transfers, got %q", got)
	}
	if got := transfers.Filters.Get("market_type"); got != "" {
		t.Errorf("market filter must not apply to transfers, got %q", got)
	}
}

func TestPageStream_CancelledContext(t *testing.T) {
	source := newFakeSource()
	paginator := NewPaginator(source, fastPacer())
	stream := paginator.Stream(testAccount, DataTypeTrades, "token", FetchRequest{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrNoMorePages) {
		t.Errorf("stream must be terminal after cancellation, got %v", err)
	}
}
