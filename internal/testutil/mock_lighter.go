// Package testutil provides testing utilities for the Lighter history client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock Lighter endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockLighter is a configurable mock Lighter API server for testing.
type MockLighter struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	LastQuery    map[string][]string
}

// NewMockLighter creates a new mock Lighter server.
func NewMockLighter() *MockLighter {
	mock := &MockLighter{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = r.URL.Query()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockLighter) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLighter) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockLighter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockLighter) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockLighter) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPagedRecords serves a paginated history endpoint. Records are split
// into pages; cursors chain the pages the way the real API does, with the
// final page omitting next_cursor.
func (m *MockLighter) SetPagedRecords(path, recordsKey string, pages [][]json.RawMessage) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if cursor := r.URL.Query().Get("cursor"); cursor != "" {
			idx, _ = strconv.Atoi(cursor)
		}

		records := []json.RawMessage{}
		nextCursor := ""
		if idx < len(pages) {
			records = pages[idx]
			if idx+1 < len(pages) {
				nextCursor = strconv.Itoa(idx + 1)
			}
		}

		payload := map[string]any{
			"code":     200,
			recordsKey: records,
		}
		if nextCursor != "" {
			payload["next_cursor"] = nextCursor
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(payload)
	})
}

// SetMarketTable serves the order book details endpoint from an ID to
// symbol table.
func (m *MockLighter) SetMarketTable(table map[int64]string) {
	books := make([]map[string]any, 0, len(table))
	for id, symbol := range table {
		books = append(books, map[string]any{"market_id": id, "symbol": symbol})
	}
	body, _ := json.Marshal(map[string]any{
		"code":               200,
		"order_book_details": books,
	})
	m.SetResponse("/api/v1/orderBookDetails", MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// SetAccounts serves the accounts-by-L1-address endpoint with the given
// sub-account indexes.
func (m *MockLighter) SetAccounts(indexes ...int64) {
	accounts := make([]map[string]any, 0, len(indexes))
	for _, idx := range indexes {
		accounts = append(accounts, map[string]any{"index": idx})
	}
	body, _ := json.Marshal(map[string]any{
		"code":         200,
		"sub_accounts": accounts,
	})
	m.SetResponse("/api/v1/accountsByL1Address", MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockLighter) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastQuery returns the query parameters of the most recent request.
func (m *MockLighter) GetLastQuery() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// defaultHandler returns an empty successful envelope for unknown paths.
func (m *MockLighter) defaultHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"code":200}`)
}
