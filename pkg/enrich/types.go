// Package enrich transforms raw Lighter API records into normalized domain
// records: market names resolved, realized PnL derived, roles and trade
// types classified, timestamps normalized to UTC, and transaction hashes
// attributed to their chain.
package enrich

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Account identifies one Lighter sub-account under an L1 address.
type Account struct {
	L1Address string `json:"l1_address"`
	Index     int64  `json:"account_index"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s/%d", a.L1Address, a.Index)
}

// Number is a float64 that unmarshals from JSON numbers or numeric strings;
// the Lighter API mixes the two across endpoints.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", data, err)
	}
	*n = Number(v)
	return nil
}

// Trade sides derived from order direction and the running position.
const (
	SideOpenLong       = "Open Long"
	SideOpenShort      = "Open Short"
	SideCloseLong      = "Close Long"
	SideCloseShort     = "Close Short"
	SideCloseLongFlip  = "Close Long -> Short"
	SideCloseShortFlip = "Close Short -> Long"
)

// Roles from the fee-tier indicator.
const (
	RoleMaker = "Maker"
	RoleTaker = "Taker"
)

// Trade types; unknown raw codes map to TradeTypeTrade with a warning flag.
const (
	TradeTypeTrade       = "trade"
	TradeTypeLiquidation = "liquidation"
	TradeTypeDeleverage  = "deleverage"
)

// Chain attribution for transaction hashes.
const (
	ChainEthereum  = "ethereum"  // L1
	ChainZkLighter = "zklighter" // L2 app-chain
	ChainArbitrum  = "arbitrum"  // fast withdrawals
)

// TransferKind distinguishes the three balance-movement record families.
type TransferKind string

const (
	KindDeposit    TransferKind = "deposit"
	KindTransfer   TransferKind = "transfer"
	KindWithdrawal TransferKind = "withdrawal"
)

// RawTrade is a trade record as returned by /api/v1/trades.
type RawTrade struct {
	TradeID                  int64  `json:"trade_id"`
	MarketID                 int64  `json:"market_id"`
	Size                     Number `json:"size"`
	Price                    Number `json:"price"`
	USDAmount                Number `json:"usd_amount"`
	Timestamp                int64  `json:"timestamp"` // epoch millis
	BidAccountID             int64  `json:"bid_account_id"`
	AskAccountID             int64  `json:"ask_account_id"`
	IsMakerAsk               bool   `json:"is_maker_ask"`
	TakerFee                 Number `json:"taker_fee"` // micro basis points
	MakerFee                 Number `json:"maker_fee"` // micro basis points
	Type                     string `json:"type"`
	TakerPositionSignChanged bool   `json:"taker_position_sign_changed"`
	TxHash                   string `json:"tx_hash"`
}

// RawFunding is a funding payment as returned by /api/v1/fundings.
type RawFunding struct {
	FundingID    int64  `json:"funding_id"`
	MarketID     int64  `json:"market_id"`
	Timestamp    int64  `json:"timestamp"` // epoch millis
	Rate         Number `json:"rate"`
	PositionSize Number `json:"position_size"`
	Payment      Number `json:"payment"` // USD, negative when paid
}

// RawTransfer is a deposit, transfer, or withdrawal record. The three
// endpoints share this shape; withdrawals carry string IDs where a "fast"
// prefix marks the Arbitrum fast-withdrawal path.
type RawTransfer struct {
	ID               string `json:"id"`
	Timestamp        int64  `json:"timestamp"` // epoch millis
	Amount           Number `json:"amount"`    // USD
	TxHash           string `json:"tx_hash"`
	FromAccountIndex *int64 `json:"from_account_index"`
	ToAccountIndex   *int64 `json:"to_account_index"`
	Status           string `json:"status"`
}

// Record is the common surface of all enriched records, used for ordering
// checks and tabular export.
type Record interface {
	RecordID() string
	Time() time.Time
	CSVRow() []string
}

// TradeRecord is an enriched trade. PnLUSD is nil unless the trade closes
// (part of) a position.
type TradeRecord struct {
	Account       Account   `json:"account"`
	TradeID       int64     `json:"trade_id"`
	Market        string    `json:"market"`
	Side          string    `json:"side"`
	DatetimeUTC   time.Time `json:"datetime_utc"`
	TradeValueUSD float64   `json:"trade_value_usd"`
	Size          float64   `json:"size"`
	PriceUSD      float64   `json:"price_usd"`
	FeeUSD        float64   `json:"fee_usd"`
	Role          string    `json:"role"`
	TradeType     string    `json:"trade_type"`
	PnLUSD        *float64  `json:"pnl_usd"`
	Warning       bool      `json:"warning"`
}

func (r TradeRecord) RecordID() string { return strconv.FormatInt(r.TradeID, 10) }
func (r TradeRecord) Time() time.Time  { return r.DatetimeUTC }

// TradeCSVHeader matches TradeRecord's JSON field names.
var TradeCSVHeader = []string{
	"l1_address", "account_index", "trade_id", "market", "side",
	"datetime_utc", "trade_value_usd", "size", "price_usd", "fee_usd",
	"role", "trade_type", "pnl_usd", "warning",
}

// CSVRow renders the record as a flat tabular row.
func (r TradeRecord) CSVRow() []string {
	pnl := ""
	if r.PnLUSD != nil {
		pnl = formatFloat(*r.PnLUSD)
	}
	return []string{
		r.Account.L1Address,
		strconv.FormatInt(r.Account.Index, 10),
		strconv.FormatInt(r.TradeID, 10),
		r.Market,
		r.Side,
		r.DatetimeUTC.Format(time.RFC3339),
		formatFloat(r.TradeValueUSD),
		formatFloat(r.Size),
		formatFloat(r.PriceUSD),
		formatFloat(r.FeeUSD),
		r.Role,
		r.TradeType,
		pnl,
		strconv.FormatBool(r.Warning),
	}
}

// FundingRecord is an enriched funding payment.
type FundingRecord struct {
	Account      Account   `json:"account"`
	FundingID    int64     `json:"funding_id"`
	Market       string    `json:"market"`
	DatetimeUTC  time.Time `json:"datetime_utc"`
	FundingRate  float64   `json:"funding_rate"`
	PositionSize float64   `json:"position_size"`
	PaymentUSD   float64   `json:"payment_usd"`
	Direction    string    `json:"direction"` // paid or received
}

func (r FundingRecord) RecordID() string { return strconv.FormatInt(r.FundingID, 10) }
func (r FundingRecord) Time() time.Time  { return r.DatetimeUTC }

// FundingCSVHeader matches FundingRecord's JSON field names.
var FundingCSVHeader = []string{
	"l1_address", "account_index", "funding_id", "market", "datetime_utc",
	"funding_rate", "position_size", "payment_usd", "direction",
}

// CSVRow renders the record as a flat tabular row.
func (r FundingRecord) CSVRow() []string {
	return []string{
		r.Account.L1Address,
		strconv.FormatInt(r.Account.Index, 10),
		strconv.FormatInt(r.FundingID, 10),
		r.Market,
		r.DatetimeUTC.Format(time.RFC3339),
		formatFloat(r.FundingRate),
		formatFloat(r.PositionSize),
		formatFloat(r.PaymentUSD),
		r.Direction,
	}
}

// TransferRecord is an enriched deposit, transfer, or withdrawal.
type TransferRecord struct {
	Account      Account      `json:"account"`
	TransferID   string       `json:"transfer_id"`
	Kind         TransferKind `json:"kind"`
	DatetimeUTC  time.Time    `json:"datetime_utc"`
	AmountUSD    float64      `json:"amount_usd"`
	TxHash       string       `json:"tx_hash"`
	Chain        string       `json:"chain"`
	Counterparty *int64       `json:"counterparty_index"`
	Status       string       `json:"status"`
}

func (r TransferRecord) RecordID() string { return r.TransferID }
func (r TransferRecord) Time() time.Time  { return r.DatetimeUTC }

// TransferCSVHeader matches TransferRecord's JSON field names.
var TransferCSVHeader = []string{
	"l1_address", "account_index", "transfer_id", "kind", "datetime_utc",
	"amount_usd", "tx_hash", "chain", "counterparty_index", "status",
}

// CSVRow renders the record as a flat tabular row.
func (r TransferRecord) CSVRow() []string {
	counterparty := ""
	if r.Counterparty != nil {
		counterparty = strconv.FormatInt(*r.Counterparty, 10)
	}
	return []string{
		r.Account.L1Address,
		strconv.FormatInt(r.Account.Index, 10),
		r.TransferID,
		string(r.Kind),
		r.DatetimeUTC.Format(time.RFC3339),
		formatFloat(r.AmountUSD),
		r.TxHash,
		r.Chain,
		counterparty,
		r.Status,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DecodeTrades parses opaque page records into raw trades.
func DecodeTrades(records []json.RawMessage) ([]RawTrade, error) {
	out := make([]RawTrade, 0, len(records))
	for i, raw := range records {
		var t RawTrade
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode trade record %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// DecodeFundings parses opaque page records into raw funding payments.
func DecodeFundings(records []json.RawMessage) ([]RawFunding, error) {
	out := make([]RawFunding, 0, len(records))
	for i, raw := range records {
		var f RawFunding
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode funding record %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// DecodeTransfers parses opaque page records into raw transfers.
func DecodeTransfers(records []json.RawMessage) ([]RawTransfer, error) {
	out := make([]RawTransfer, 0, len(records))
	for i, raw := range records {
		var tr RawTransfer
		if err := json.Unmarshal(raw, &tr); err != nil {
			return nil, fmt.Errorf("decode transfer record %d: %w", i, err)
		}
		out = append(out, tr)
	}
	return out, nil
}
