package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lighter-tools/lighter-history/internal/testutil"
	"github.com/lighter-tools/lighter-history/pkg/client"
	"github.com/lighter-tools/lighter-history/pkg/enrich"
	"github.com/lighter-tools/lighter-history/pkg/fetch"
	"github.com/lighter-tools/lighter-history/pkg/logging"
	"github.com/lighter-tools/lighter-history/pkg/markets"
	"github.com/lighter-tools/lighter-history/pkg/ratelimit"
)

func newTestServer(t *testing.T) (*server, *testutil.MockLighter) {
	t.Helper()

	mock := testutil.NewMockLighter()
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	apiClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	resolver := markets.NewResolver(apiClient)
	pacer := ratelimit.NewPacer(fetch.DefaultPaceIntervals())

	return &server{
		client:    apiClient,
		resolver:  resolver,
		paginator: fetch.NewPaginator(apiClient, pacer),
		enricher:  enrich.NewEnricher(resolver),
		logger:    logging.NewLogger("history-server-test"),
	}, mock
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestLookupAccounts(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetAccounts(0, 5)

	req := httptest.NewRequest("POST", "/api/lookup-accounts",
		strings.NewReader(`{"l1_address":"0xabc"}`))
	w := httptest.NewRecorder()

	srv.handleLookupAccounts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp lookupResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.L1Address != "0xabc" {
		t.Errorf("Expected l1_address 0xabc, got %q", resp.L1Address)
	}
	if len(resp.AccountIndexes) != 2 || resp.AccountIndexes[0] != 0 || resp.AccountIndexes[1] != 5 {
		t.Errorf("Expected account indexes [0 5], got %v", resp.AccountIndexes)
	}
}

func TestLookupAccounts_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/lookup-accounts", nil)
	w := httptest.NewRecorder()

	srv.handleLookupAccounts(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHandleFetch_UnknownDataType(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/fetch", strings.NewReader(
		`{"l1_address":"0xabc","account_indexes":[7],"data_types":["bogus"],"auth":"tok"}`))
	w := httptest.NewRecorder()

	srv.handleFetch(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleFetch_SingleAccountTrades(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetMarketTable(map[int64]string{1: "BTC-PERP"})
	mock.SetPagedRecords("/api/v1/trades", "trades", [][]json.RawMessage{
		{json.RawMessage(`{"trade_id":1,"market_id":1,"size":"2","price":"100","usd_amount":"200",` +
			`"timestamp":1700000000000,"bid_account_id":7,"ask_account_id":9,"is_maker_ask":true,` +
			`"taker_fee":"450","maker_fee":"0","type":"trade","tx_hash":"0x1"}`)},
	})

	req := httptest.NewRequest("POST", "/api/fetch", strings.NewReader(
		`{"l1_address":"0xabc","account_indexes":[7],"data_types":["trades"],"auth":"tok"}`))
	w := httptest.NewRecorder()

	srv.handleFetch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		OK      bool `json:"ok"`
		Results []struct {
			Status string               `json:"status"`
			Trades []enrich.TradeRecord `json:"trades"`
		} `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if !resp.OK {
		t.Error("Expected ok report")
	}
	if len(resp.Results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].Status != string(fetch.StatusComplete) {
		t.Errorf("Expected status complete, got %q", resp.Results[0].Status)
	}
	if len(resp.Results[0].Trades) != 1 || resp.Results[0].Trades[0].Market != "BTC-PERP" {
		t.Errorf("Expected 1 enriched BTC-PERP trade, got %+v", resp.Results[0].Trades)
	}
}

func TestHandleFetchCSV(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetMarketTable(map[int64]string{1: "BTC-PERP"})
	mock.SetPagedRecords("/api/v1/deposits", "deposits", [][]json.RawMessage{
		{json.RawMessage(`{"id":"55","timestamp":1700000000000,"amount":"100","tx_hash":"0x2",` +
			`"to_account_index":7,"status":"completed"}`)},
	})

	req := httptest.NewRequest("GET",
		"/api/fetch/csv?l1_address=0xabc&account_index=7&data_type=deposits&auth=tok", nil)
	w := httptest.NewRecorder()

	srv.handleFetchCSV(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Expected text/csv content type, got %q", got)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header plus 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "l1_address,account_index,transfer_id") {
		t.Errorf("Unexpected csv header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "55") || !strings.Contains(lines[1], "deposit") {
		t.Errorf("Unexpected csv row: %s", lines[1])
	}
}

func TestHandleMarkets(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.SetMarketTable(map[int64]string{1: "BTC-PERP", 2: "ETH-PERP"})

	req := httptest.NewRequest("GET", "/api/markets", nil)
	w := httptest.NewRecorder()

	srv.handleMarkets(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var table map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &table); err != nil {
		t.Fatalf("decoding table: %v", err)
	}
	if table["1"] != "BTC-PERP" || table["2"] != "ETH-PERP" {
		t.Errorf("Unexpected table: %v", table)
	}
}
