package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lighter-tools/lighter-history/pkg/enrich"
)

// DataType selects one of the paginated history record families.
type DataType int

const (
	DataTypeTrades DataType = iota
	DataTypeFunding
	DataTypeDeposits
	DataTypeTransfers
	DataTypeWithdrawals
)

// AllDataTypes lists every fetchable data type.
var AllDataTypes = []DataType{
	DataTypeTrades,
	DataTypeFunding,
	DataTypeDeposits,
	DataTypeTransfers,
	DataTypeWithdrawals,
}

// String returns the wire name of the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeTrades:
		return "trades"
	case DataTypeFunding:
		return "fundings"
	case DataTypeDeposits:
		return "deposits"
	case DataTypeTransfers:
		return "transfers"
	case DataTypeWithdrawals:
		return "withdrawals"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// ParseDataType parses a wire name into a DataType.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trades":
		return DataTypeTrades, nil
	case "fundings", "funding":
		return DataTypeFunding, nil
	case "deposits":
		return DataTypeDeposits, nil
	case "transfers":
		return DataTypeTransfers, nil
	case "withdrawals":
		return DataTypeWithdrawals, nil
	default:
		return 0, fmt.Errorf("%w: unknown data type %q", ErrValidation, s)
	}
}

// endpoint returns the API path and the envelope key holding the records.
func (d DataType) endpoint() (path, recordsKey string) {
	switch d {
	case DataTypeTrades:
		return "/api/v1/trades", "trades"
	case DataTypeFunding:
		return "/api/v1/fundings", "fundings"
	case DataTypeDeposits:
		return "/api/v1/deposits", "deposits"
	case DataTypeTransfers:
		return "/api/v1/transfers", "transfers"
	case DataTypeWithdrawals:
		return "/api/v1/withdrawals", "withdrawals"
	default:
		return "", ""
	}
}

// PaceClass returns the pacer stream class. Streams of the same data type
// share one upstream quota regardless of account; different data types
// consume separate quotas.
func (d DataType) PaceClass() string {
	return d.String()
}

// transferKind maps balance-movement data types onto their enrichment kind.
func (d DataType) transferKind() (enrich.TransferKind, bool) {
	switch d {
	case DataTypeDeposits:
		return enrich.KindDeposit, true
	case DataTypeTransfers:
		return enrich.KindTransfer, true
	case DataTypeWithdrawals:
		return enrich.KindWithdrawal, true
	default:
		return "", false
	}
}

// valid reports whether d is a known data type.
func (d DataType) valid() bool {
	return d >= DataTypeTrades && d <= DataTypeWithdrawals
}

// Pace intervals per data type. The trades endpoint allows 20 calls/min
// (3s floor, 3.5s for safety); the other history endpoints allow one call
// per second.
const (
	TradesPaceInterval  = 3500 * time.Millisecond
	DefaultPaceInterval = time.Second
)

// DefaultPaceIntervals returns the pacer configuration for all data types.
func DefaultPaceIntervals() map[string]time.Duration {
	intervals := make(map[string]time.Duration, len(AllDataTypes))
	for _, dt := range AllDataTypes {
		intervals[dt.PaceClass()] = DefaultPaceInterval
	}
	intervals[DataTypeTrades.PaceClass()] = TradesPaceInterval
	return intervals
}

// Transfer direction filters.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// FetchRequest describes one multi-account, multi-type fetch. Immutable
// after validation.
type FetchRequest struct {
	// ID correlates log lines and results for one request.
	ID uuid.UUID

	// Accounts to fetch; every selected data type is fetched for each.
	Accounts []enrich.Account

	// Types selects the record families to fetch.
	Types []DataType

	// Start and End bound the time range (optional).
	Start *time.Time
	End   *time.Time

	// MarketFilter restricts trades and fundings to a market type (optional).
	MarketFilter string

	// Direction restricts transfers to one direction (optional).
	Direction string
}

// NewFetchRequest assigns a correlation ID to a request.
func NewFetchRequest(accounts []enrich.Account, types []DataType) FetchRequest {
	return FetchRequest{
		ID:       uuid.New(),
		Accounts: accounts,
		Types:    types,
	}
}

// Validate rejects malformed requests before any task starts.
func (r FetchRequest) Validate() error {
	if len(r.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts", ErrValidation)
	}
	if len(r.Types) == 0 {
		return fmt.Errorf("%w: no data types", ErrValidation)
	}

	for _, account := range r.Accounts {
		if account.L1Address == "" {
			return fmt.Errorf("%w: empty L1 address", ErrValidation)
		}
		if account.Index < 0 {
			return fmt.Errorf("%w: negative account index %d", ErrValidation, account.Index)
		}
	}

	for _, dt := range r.Types {
		if !dt.valid() {
			return fmt.Errorf("%w: unknown data type %d", ErrValidation, int(dt))
		}
	}

	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return fmt.Errorf("%w: time range end before start", ErrValidation)
	}

	switch r.Direction {
	case "", DirectionIn, DirectionOut:
	default:
		return fmt.Errorf("%w: unknown transfer direction %q", ErrValidation, r.Direction)
	}

	return nil
}

// TokenSource supplies opaque bearer tokens per account. Tokens are treated
// as black boxes: never inspected, logged, or persisted.
type TokenSource interface {
	Token(ctx context.Context, account enrich.Account) (string, error)
}

// StaticTokens is a TokenSource backed by a fixed map, for callers that
// acquire tokens up front.
type StaticTokens map[enrich.Account]string

// Token implements TokenSource.
func (s StaticTokens) Token(_ context.Context, account enrich.Account) (string, error) {
	token, ok := s[account]
	if !ok {
		return "", fmt.Errorf("no token for account %s", account)
	}
	return token, nil
}

// Status is the terminal state of one fetch task.
type Status string

const (
	// StatusComplete means every page was fetched and enriched.
	StatusComplete Status = "complete"

	// StatusEmpty means the fetch succeeded with a zero-length result set.
	StatusEmpty Status = "empty"

	// StatusPartialFailure means the task failed mid-fetch; records fetched
	// before the failure are retained.
	StatusPartialFailure Status = "partial_failure"

	// StatusTruncated means the defensive page bound was hit; records
	// fetched up to the bound are retained.
	StatusTruncated Status = "truncated"

	// StatusCancelled means the caller aborted the request; records fetched
	// before the abort are retained.
	StatusCancelled Status = "cancelled"
)

// ok reports whether the status counts toward overall request success.
func (s Status) ok() bool {
	return s == StatusComplete || s == StatusEmpty
}

// ResultKey identifies one fetch task.
type ResultKey struct {
	Account enrich.Account
	Type    DataType
}

// FetchResult is the terminal outcome of one (account, data type) task.
// Exactly one of the record slices is populated, matching Type.
type FetchResult struct {
	Account enrich.Account `json:"account"`
	Type    string         `json:"data_type"`
	Status  Status         `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Pages   int            `json:"pages"`

	Trades    []enrich.TradeRecord    `json:"trades,omitempty"`
	Fundings  []enrich.FundingRecord  `json:"fundings,omitempty"`
	Transfers []enrich.TransferRecord `json:"transfers,omitempty"`

	dataType DataType
}

// Len returns the number of enriched records in the result.
func (r *FetchResult) Len() int {
	return len(r.Trades) + len(r.Fundings) + len(r.Transfers)
}

// Report aggregates all task results for one request.
type Report struct {
	RequestID uuid.UUID
	Results   map[ResultKey]*FetchResult

	// OK is true only if every task completed or was empty. Partial results
	// remain in Results either way.
	OK bool
}
