package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// BinKey identifies one (item, location) bin, the unit of contention.
type BinKey struct {
	ItemID     int64
	LocationID int64
}

// NextBin applies one ledger delta to a bin in O(1). This is the only way a bin
// is ever advanced on the hot path; Rebuild exists to prove the incremental
// value equals the full fold.
func NextBin(bin Bin, qtyDelta, rate decimal.Decimal, at time.Time) Bin {
	v := applyDelta(Valuation{Qty: bin.Qty, Value: bin.Value, Rate: bin.Rate}, qtyDelta, rate)
	return Bin{
		ItemID:     bin.ItemID,
		LocationID: bin.LocationID,
		Qty:        v.Qty,
		Value:      v.Value,
		Rate:       v.Rate,
		UpdatedAt:  at,
	}
}

// FoldLedger folds entries in sequence order into a valuation state. Entries
// must belong to a single (item, location) key and be presented ascending.
func FoldLedger(entries []LedgerEntry) Valuation {
	var v Valuation
	for _, e := range entries {
		v = applyDelta(v, e.QtyDelta, e.ValuationRate)
	}
	return v
}

// VerifyFold checks that every entry's denormalized running balance matches the
// fold of the entries before it. Used by the append path as a defensive check
// and by the integrity job over the whole ledger.
func VerifyFold(entries []LedgerEntry) error {
	var v Valuation
	for _, e := range entries {
		v = applyDelta(v, e.QtyDelta, e.ValuationRate)
		if !v.Qty.Equal(e.BalanceQty) || !v.Value.Equal(e.BalanceValue) {
			return ErrIntegrity
		}
	}
	return nil
}
