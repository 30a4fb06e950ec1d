package stock

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func TestNextValuationReceiptOntoEmptyBin(t *testing.T) {
	next, rate, err := NextValuation(Valuation{}, Movement{QtyDelta: d("10"), IncomingRate: dp("5")})
	require.NoError(t, err)
	require.True(t, next.Qty.Equal(d("10")))
	require.True(t, next.Value.Equal(d("50")))
	require.True(t, next.Rate.Equal(d("5")))
	require.True(t, rate.Equal(d("5")))
}

func TestNextValuationWeightedAverage(t *testing.T) {
	v, _, err := NextValuation(Valuation{}, Movement{QtyDelta: d("10"), IncomingRate: dp("5")})
	require.NoError(t, err)
	v, _, err = NextValuation(v, Movement{QtyDelta: d("10"), IncomingRate: dp("7")})
	require.NoError(t, err)
	require.True(t, v.Qty.Equal(d("20")))
	require.True(t, v.Value.Equal(d("120")))
	require.True(t, v.Rate.Equal(d("6")))
}

func TestNextValuationOutboundCarriesRate(t *testing.T) {
	v := Valuation{Qty: d("20"), Value: d("120"), Rate: d("6")}
	next, rate, err := NextValuation(v, Movement{QtyDelta: d("-5")})
	require.NoError(t, err)
	require.True(t, rate.Equal(d("6")))
	require.True(t, next.Qty.Equal(d("15")))
	require.True(t, next.Value.Equal(d("90")))
	require.True(t, next.Rate.Equal(d("6")))
}

func TestNextValuationInboundWithoutRateUsesCarriedRate(t *testing.T) {
	v := Valuation{Qty: d("4"), Value: d("20"), Rate: d("5")}
	next, rate, err := NextValuation(v, Movement{QtyDelta: d("2")})
	require.NoError(t, err)
	require.True(t, rate.Equal(d("5")))
	require.True(t, next.Qty.Equal(d("6")))
	require.True(t, next.Value.Equal(d("30")))
}

func TestNextValuationZeroDeltaRejected(t *testing.T) {
	_, _, err := NextValuation(Valuation{}, Movement{QtyDelta: decimal.Zero})
	require.ErrorIs(t, err, ErrValidation)
}

func TestNextValuationOutboundFromEmptyAlwaysRejected(t *testing.T) {
	_, _, err := NextValuation(Valuation{}, Movement{QtyDelta: d("-1")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, _, err = NextValuation(Valuation{}, Movement{QtyDelta: d("-1"), AllowNegative: true})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestNextValuationNegativeBalancePolicy(t *testing.T) {
	v := Valuation{Qty: d("5"), Value: d("25"), Rate: d("5")}

	_, _, err := NextValuation(v, Movement{QtyDelta: d("-8")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	next, rate, err := NextValuation(v, Movement{QtyDelta: d("-8"), AllowNegative: true})
	require.NoError(t, err)
	require.True(t, rate.Equal(d("5")))
	require.True(t, next.Qty.Equal(d("-3")))
	require.True(t, next.Rate.Equal(d("5")), "rate carries through a provisional negative balance")
}

func TestNextValuationDrainToZeroClearsValueKeepsRate(t *testing.T) {
	v := Valuation{Qty: d("3"), Value: d("10.0001"), Rate: d("10.0001").Div(d("3"))}
	next, _, err := NextValuation(v, Movement{QtyDelta: d("-3")})
	require.NoError(t, err)
	require.True(t, next.Qty.IsZero())
	require.True(t, next.Value.IsZero(), "rounding dust must not survive an emptied bin")
	require.False(t, next.Rate.IsZero())

	// The next receipt with an explicit rate takes that rate outright.
	after, rate, err := NextValuation(next, Movement{QtyDelta: d("2"), IncomingRate: dp("4")})
	require.NoError(t, err)
	require.True(t, rate.Equal(d("4")))
	require.True(t, after.Rate.Equal(d("4")))
	require.True(t, after.Value.Equal(d("8")))
}

func TestNextValuationValueRoundedToFourPlaces(t *testing.T) {
	next, _, err := NextValuation(Valuation{}, Movement{QtyDelta: d("3"), IncomingRate: dp("0.333333")})
	require.NoError(t, err)
	require.True(t, next.Value.Equal(d("1.0000")), "got %s", next.Value)
}

func TestNextValuationRecoveryFromNegativeBalance(t *testing.T) {
	v := Valuation{Qty: d("5"), Value: d("25"), Rate: d("5")}
	v, _, err := NextValuation(v, Movement{QtyDelta: d("-8"), AllowNegative: true})
	require.NoError(t, err)

	// Receipt while negative re-derives the average from the new totals.
	v, _, err = NextValuation(v, Movement{QtyDelta: d("10"), IncomingRate: dp("6")})
	require.NoError(t, err)
	require.True(t, v.Qty.Equal(d("7")))
	require.True(t, v.Value.Equal(d("45")))
	require.True(t, v.Rate.Equal(d("45").Div(d("7"))))
}
