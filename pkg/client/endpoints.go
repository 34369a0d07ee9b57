package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Endpoint paths consumed by this client.
const (
	pathOrderBookDetails    = "/api/v1/orderBookDetails"
	pathAccountsByL1Address = "/api/v1/accountsByL1Address"
)

// FetchPage fetches one page from a paginated history endpoint.
// The response envelope is {"code", "<records>", "next_cursor"}; a 200
// response carrying a non-200 code is a validation-class error.
func (c *Client) FetchPage(ctx context.Context, q PageQuery) (*RawPage, error) {
	query := url.Values{}
	query.Set("account_index", strconv.FormatInt(q.AccountIndex, 10))
	query.Set("sort_by", "timestamp")

	limit := q.Limit
	if limit <= 0 {
		limit = c.config.PageLimit
	}
	query.Set("limit", strconv.Itoa(limit))

	if q.Auth != "" {
		query.Set("auth", q.Auth)
	}
	if q.Cursor != "" {
		query.Set("cursor", q.Cursor)
	}
	if q.Start != nil {
		query.Set("start_timestamp", strconv.FormatInt(q.Start.UnixMilli(), 10))
	}
	if q.End != nil {
		query.Set("end_timestamp", strconv.FormatInt(q.End.UnixMilli(), 10))
	}
	for key, values := range q.Filters {
		for _, v := range values {
			query.Add(key, v)
		}
	}

	body, err := c.getRaw(ctx, q.Path, query)
	if err != nil {
		return nil, err
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal %s envelope: %w", q.Path, err)
	}

	if code, ok := envelope.intField("code"); ok && code != 200 {
		return nil, appError(q.Path, code)
	}

	records, err := envelope.recordsField(q.RecordsKey)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s records (%q): %w", q.Path, q.RecordsKey, err)
	}

	c.logger.Debug().
		Str("endpoint", q.Path).
		Int64("account_index", q.AccountIndex).
		Int("records", len(records)).
		Bool("cursor_present", envelope.stringField("next_cursor") != "").
		Msg("Fetched page")

	return &RawPage{
		Records:    records,
		NextCursor: envelope.stringField("next_cursor"),
	}, nil
}

// getRaw performs a GET with retries and returns the raw body.
func (c *Client) getRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var body []byte

	err := retryWithBackoff(ctx, func() error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, path, query)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// OrderBookDetails fetches the full market-id to symbol table.
func (c *Client) OrderBookDetails(ctx context.Context) (map[int64]string, error) {
	var resp orderBookDetailsResponse
	if err := c.getJSON(ctx, pathOrderBookDetails, nil, &resp); err != nil {
		return nil, fmt.Errorf("get order book details: %w", err)
	}

	if resp.Code != 0 && resp.Code != 200 {
		return nil, appError(pathOrderBookDetails, resp.Code)
	}

	table := make(map[int64]string, len(resp.OrderBookDetails))
	for _, book := range resp.OrderBookDetails {
		table[book.MarketID] = book.Symbol
	}

	return table, nil
}

// AccountsByL1Address fetches the sub-account indexes owned by an L1 address.
func (c *Client) AccountsByL1Address(ctx context.Context, l1Address string) ([]int64, error) {
	query := url.Values{}
	query.Set("l1_address", l1Address)

	var resp accountsByL1Response
	if err := c.getJSON(ctx, pathAccountsByL1Address, query, &resp); err != nil {
		return nil, fmt.Errorf("get accounts for L1 address: %w", err)
	}

	if resp.Code != 0 && resp.Code != 200 {
		return nil, appError(pathAccountsByL1Address, resp.Code)
	}

	indexes := make([]int64, 0, len(resp.SubAccounts))
	for _, acc := range resp.SubAccounts {
		indexes = append(indexes, acc.Index)
	}

	return indexes, nil
}
