package enrich

import "math"

// position is the running signed exposure in one (account, market) pair.
// Longs are positive, shorts negative. entryNotional tracks the absolute
// cost basis of the open position, so the average entry price is
// entryNotional / |size|.
type position struct {
	size          float64
	entryNotional float64
}

// positionBook tracks running positions per market for a single account,
// built strictly from trade sequence order.
type positionBook struct {
	positions map[int64]*position
}

func newPositionBook() *positionBook {
	return &positionBook{positions: make(map[int64]*position)}
}

// fill applies one trade to the book. delta is the signed size (positive
// buy, negative sell) and price the execution price. It returns the side
// label and, for closing fills, the realized PnL in USD.
func (b *positionBook) fill(marketID int64, delta, price float64) (side string, pnl *float64) {
	pos, ok := b.positions[marketID]
	if !ok {
		pos = &position{}
		b.positions[marketID] = pos
	}

	// Flat book or same direction: the fill opens/extends the position.
	if pos.size == 0 || sameSign(pos.size, delta) {
		pos.size += delta
		pos.entryNotional += math.Abs(delta) * price
		if delta > 0 {
			return SideOpenLong, nil
		}
		return SideOpenShort, nil
	}

	// Opposite direction: the fill closes (part of) the position.
	closed := math.Min(math.Abs(delta), math.Abs(pos.size))
	avgEntry := pos.entryNotional / math.Abs(pos.size)
	positionSign := math.Copysign(1, pos.size)
	realized := (price - avgEntry) * closed * positionSign

	remainder := math.Abs(delta) - math.Abs(pos.size)
	switch {
	case remainder > 0:
		// The fill flips the position; the excess reopens at the
		// execution price.
		if pos.size > 0 {
			side = SideCloseLongFlip
		} else {
			side = SideCloseShortFlip
		}
		pos.size = math.Copysign(remainder, delta)
		pos.entryNotional = remainder * price
	case remainder == 0:
		if pos.size > 0 {
			side = SideCloseLong
		} else {
			side = SideCloseShort
		}
		pos.size = 0
		pos.entryNotional = 0
	default:
		if pos.size > 0 {
			side = SideCloseLong
		} else {
			side = SideCloseShort
		}
		pos.size += delta
		pos.entryNotional = math.Abs(pos.size) * avgEntry
	}

	return side, &realized
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}
