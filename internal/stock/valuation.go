package stock

import "github.com/shopspring/decimal"

// Valuation is the (quantity, value, rate) state the engine steps through. Rate
// always equals Value/Qty while Qty is positive; when Qty reaches zero the rate
// is carried forward so a later receipt onto zero takes the incoming rate.
type Valuation struct {
	Qty   decimal.Decimal
	Value decimal.Decimal
	Rate  decimal.Decimal
}

// Movement is one signed quantity step against a Valuation. IncomingRate is
// consulted only when QtyDelta is positive; nil means "use the carried rate".
type Movement struct {
	QtyDelta      decimal.Decimal
	IncomingRate  *decimal.Decimal
	AllowNegative bool
}

// NextValuation computes the post-movement valuation state using the weighted
// moving average method.
//
// Inbound: newRate = (curQty*curRate + qty*rate) / newQty, collapsing to the
// incoming rate when the current quantity is zero. Outbound: quantity shrinks
// at the carried rate, so the rate never changes on the way out.
//
// The function is pure; callers hold whatever locks or snapshots they need.
func NextValuation(current Valuation, move Movement) (Valuation, decimal.Decimal, error) {
	if move.QtyDelta.IsZero() {
		return Valuation{}, decimal.Zero, ErrValidation
	}

	if move.QtyDelta.Sign() > 0 {
		rate := current.Rate
		if move.IncomingRate != nil {
			rate = *move.IncomingRate
		}
		next := applyDelta(current, move.QtyDelta, rate)
		return next, rate, nil
	}

	// Outgoing from an empty bin has no meaningful rate to reduce from and is
	// rejected regardless of the negative-stock flag.
	if current.Qty.Sign() == 0 {
		return Valuation{}, decimal.Zero, ErrInsufficientStock
	}
	newQty := current.Qty.Add(move.QtyDelta)
	if newQty.Sign() < 0 && !move.AllowNegative {
		return Valuation{}, decimal.Zero, ErrInsufficientStock
	}
	rate := current.Rate
	next := applyDelta(current, move.QtyDelta, rate)
	return next, rate, nil
}

// applyDelta is the single fold step shared by the valuation engine, the bin
// cache and the rebuild path: value moves by qtyDelta*rate, quantity by
// qtyDelta, and the rate is re-derived from the new totals.
func applyDelta(v Valuation, qtyDelta, rate decimal.Decimal) Valuation {
	next := Valuation{
		Qty:   v.Qty.Add(qtyDelta),
		Value: roundValue(v.Value.Add(qtyDelta.Mul(rate))),
		Rate:  v.Rate,
	}
	switch {
	case next.Qty.Sign() == 0:
		// Rounding dust must not survive an emptied bin; the rate is carried
		// forward for the next receipt.
		next.Value = decimal.Zero
		next.Rate = rate
	case next.Qty.Sign() > 0:
		next.Rate = next.Value.Div(next.Qty)
	default:
		// Provisional negative balance: rate carried forward unchanged until a
		// subsequent receipt corrects it.
		next.Rate = rate
	}
	return next
}
