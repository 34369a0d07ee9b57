package client

import (
	"encoding/json"
	"net/url"
	"time"
)

// PageQuery describes one page request against a paginated history endpoint.
type PageQuery struct {
	// Path is the endpoint path, e.g. "/api/v1/trades".
	Path string

	// RecordsKey is the envelope key holding the record array, e.g. "trades".
	RecordsKey string

	// AccountIndex selects the sub-account.
	AccountIndex int64

	// Auth is the opaque bearer token. Passed through verbatim, never logged.
	Auth string

	// Cursor is the continuation token from the previous page; empty for the
	// first page.
	Cursor string

	// Limit is the page size; 0 uses the client's configured PageLimit.
	Limit int

	// Start and End bound the time range (optional).
	Start *time.Time
	End   *time.Time

	// Filters carries endpoint-specific filter parameters.
	Filters url.Values
}

// RawPage is one page of opaque records plus the continuation cursor.
// An empty NextCursor signals exhaustion.
type RawPage struct {
	Records    []json.RawMessage
	NextCursor string
}

// pageEnvelope is the common shape of history endpoint responses:
// {"code": 200, "<records>": [...], "next_cursor": "..."}.
type pageEnvelope map[string]json.RawMessage

func (e pageEnvelope) intField(key string) (int, bool) {
	raw, ok := e[key]
	if !ok {
		return 0, false
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (e pageEnvelope) stringField(key string) string {
	raw, ok := e[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func (e pageEnvelope) recordsField(key string) ([]json.RawMessage, error) {
	raw, ok := e[key]
	if !ok {
		return nil, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// orderBookDetailsResponse is the /api/v1/orderBookDetails payload.
type orderBookDetailsResponse struct {
	Code             int               `json:"code"`
	OrderBookDetails []orderBookDetail `json:"order_book_details"`
}

type orderBookDetail struct {
	MarketID int64  `json:"market_id"`
	Symbol   string `json:"symbol"`
}

// accountsByL1Response is the /api/v1/accountsByL1Address payload.
type accountsByL1Response struct {
	Code        int          `json:"code"`
	SubAccounts []subAccount `json:"sub_accounts"`
}

type subAccount struct {
	Index int64 `json:"index"`
}
