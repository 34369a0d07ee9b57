package enrich

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lighter-tools/lighter-history/pkg/markets"
)

// Prometheus metrics for enrichment.
var (
	recordsEnrichedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_records_enriched_total",
		Help: "Records enriched by data type",
	}, []string{"data_type"})

	enrichWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lighter_enrich_warnings_total",
		Help: "Records flagged with an enrichment warning, by reason",
	}, []string{"reason"})
)

// feeDivisor converts raw fee values (micro basis points) to a rate.
const feeDivisor = 1_000_000

// Enricher derives domain records from raw API records. Its only state is
// the market resolver's current table snapshot, so enriching the same batch
// against the same snapshot is idempotent.
type Enricher struct {
	resolver *markets.Resolver
	logger   zerolog.Logger
}

// NewEnricher creates an enricher over the given market resolver.
func NewEnricher(resolver *markets.Resolver) *Enricher {
	return &Enricher{
		resolver: resolver,
		logger:   log.With().Str("component", "enrich").Logger(),
	}
}

// Trades enriches one account's raw trades. Realized PnL needs the fills in
// strict chronological order, so the batch is re-sorted by (timestamp,
// trade id) before the position book is applied; duplicates by trade id are
// dropped, keeping the first occurrence.
func (e *Enricher) Trades(ctx context.Context, account Account, raws []RawTrade) []TradeRecord {
	raws = dedupeTrades(raws)
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].Timestamp != raws[j].Timestamp {
			return raws[i].Timestamp < raws[j].Timestamp
		}
		return raws[i].TradeID < raws[j].TradeID
	})

	book := newPositionBook()
	out := make([]TradeRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, e.trade(ctx, account, raw, book))
	}

	recordsEnrichedTotal.WithLabelValues("trades").Add(float64(len(out)))
	return out
}

// trade enriches a single fill against the running position book.
func (e *Enricher) trade(ctx context.Context, account Account, raw RawTrade, book *positionBook) TradeRecord {
	price := float64(raw.Price)
	size := float64(raw.Size)

	taker := isTaker(raw, account.Index)
	role := RoleMaker
	feeRate := float64(raw.MakerFee) / feeDivisor
	if taker {
		role = RoleTaker
		feeRate = float64(raw.TakerFee) / feeDivisor
	}

	delta := size
	if raw.BidAccountID != account.Index {
		delta = -size
	}
	side, pnl := book.fill(raw.MarketID, delta, price)

	tradeType, warning := classifyTradeType(raw.Type)
	if warning {
		enrichWarningsTotal.WithLabelValues("unknown_trade_type").Inc()
		e.logger.Warn().
			Str("raw_type", raw.Type).
			Int64("trade_id", raw.TradeID).
			Msg("Unknown trade type code, mapped to generic trade")
	}

	return TradeRecord{
		Account:       account,
		TradeID:       raw.TradeID,
		Market:        e.resolver.Resolve(ctx, raw.MarketID),
		Side:          side,
		DatetimeUTC:   time.UnixMilli(raw.Timestamp).UTC(),
		TradeValueUSD: float64(raw.USDAmount),
		Size:          size,
		PriceUSD:      price,
		FeeUSD:        price * size * feeRate,
		Role:          role,
		TradeType:     tradeType,
		PnLUSD:        pnl,
		Warning:       warning,
	}
}

// Fundings enriches one account's raw funding payments, sorted by
// (timestamp, funding id), duplicates dropped.
func (e *Enricher) Fundings(ctx context.Context, account Account, raws []RawFunding) []FundingRecord {
	raws = dedupeFundings(raws)
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].Timestamp != raws[j].Timestamp {
			return raws[i].Timestamp < raws[j].Timestamp
		}
		return raws[i].FundingID < raws[j].FundingID
	})

	out := make([]FundingRecord, 0, len(raws))
	for _, raw := range raws {
		direction := "received"
		if raw.Payment < 0 {
			direction = "paid"
		}
		out = append(out, FundingRecord{
			Account:      account,
			FundingID:    raw.FundingID,
			Market:       e.resolver.Resolve(ctx, raw.MarketID),
			DatetimeUTC:  time.UnixMilli(raw.Timestamp).UTC(),
			FundingRate:  float64(raw.Rate),
			PositionSize: float64(raw.PositionSize),
			PaymentUSD:   float64(raw.Payment),
			Direction:    direction,
		})
	}

	recordsEnrichedTotal.WithLabelValues("fundings").Add(float64(len(out)))
	return out
}

// Transfers enriches one account's raw deposits, transfers, or withdrawals,
// sorted by (timestamp, id), duplicates dropped. The chain attribution is a
// presentation hint: deposits settle on the L1, transfers on the L2
// app-chain, and withdrawals on L1 unless the fast path was used.
func (e *Enricher) Transfers(ctx context.Context, account Account, kind TransferKind, raws []RawTransfer) []TransferRecord {
	raws = dedupeTransfers(raws)
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].Timestamp != raws[j].Timestamp {
			return raws[i].Timestamp < raws[j].Timestamp
		}
		return raws[i].ID < raws[j].ID
	})

	out := make([]TransferRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, TransferRecord{
			Account:      account,
			TransferID:   raw.ID,
			Kind:         kind,
			DatetimeUTC:  time.UnixMilli(raw.Timestamp).UTC(),
			AmountUSD:    float64(raw.Amount),
			TxHash:       raw.TxHash,
			Chain:        chainFor(kind, raw.ID),
			Counterparty: counterparty(account.Index, raw),
			Status:       raw.Status,
		})
	}

	recordsEnrichedTotal.WithLabelValues(string(kind) + "s").Add(float64(len(out)))
	return out
}

// isTaker derives the role from the raw fee-tier indicator fields.
func isTaker(raw RawTrade, accountIndex int64) bool {
	return (raw.BidAccountID == accountIndex && !raw.IsMakerAsk) ||
		(raw.AskAccountID == accountIndex && raw.IsMakerAsk)
}

// classifyTradeType maps the raw type code onto the closed enumeration.
// Unknown codes map to a generic trade with a warning, never an error.
func classifyTradeType(code string) (tradeType string, warning bool) {
	switch strings.ToLower(code) {
	case "", TradeTypeTrade:
		return TradeTypeTrade, false
	case TradeTypeLiquidation:
		return TradeTypeLiquidation, false
	case TradeTypeDeleverage, "adl":
		return TradeTypeDeleverage, false
	default:
		return TradeTypeTrade, true
	}
}

// chainFor attributes a record's transaction hash to a chain.
func chainFor(kind TransferKind, id string) string {
	switch kind {
	case KindDeposit:
		return ChainEthereum
	case KindTransfer:
		return ChainZkLighter
	case KindWithdrawal:
		if strings.HasPrefix(id, "fast") {
			return ChainArbitrum
		}
		return ChainEthereum
	default:
		return ""
	}
}

// counterparty picks the other side of an L2 transfer, when present.
func counterparty(accountIndex int64, raw RawTransfer) *int64 {
	if raw.FromAccountIndex != nil && *raw.FromAccountIndex != accountIndex {
		return raw.FromAccountIndex
	}
	if raw.ToAccountIndex != nil && *raw.ToAccountIndex != accountIndex {
		return raw.ToAccountIndex
	}
	return nil
}

func dedupeTrades(raws []RawTrade) []RawTrade {
	seen := make(map[int64]struct{}, len(raws))
	out := raws[:0:0]
	for _, r := range raws {
		if _, ok := seen[r.TradeID]; ok {
			continue
		}
		seen[r.TradeID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func dedupeFundings(raws []RawFunding) []RawFunding {
	seen := make(map[int64]struct{}, len(raws))
	out := raws[:0:0]
	for _, r := range raws {
		if _, ok := seen[r.FundingID]; ok {
			continue
		}
		seen[r.FundingID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func dedupeTransfers(raws []RawTransfer) []RawTransfer {
	seen := make(map[string]struct{}, len(raws))
	out := raws[:0:0]
	for _, r := range raws {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
