package stock

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func ledgerFixture() []LedgerEntry {
	// receipt 10@5, receipt 10@7, issue 4 at the blended 6.
	return []LedgerEntry{
		{Sequence: 1, QtyDelta: d("10"), ValuationRate: d("5"), BalanceQty: d("10"), BalanceValue: d("50")},
		{Sequence: 2, QtyDelta: d("10"), ValuationRate: d("7"), BalanceQty: d("20"), BalanceValue: d("120")},
		{Sequence: 3, QtyDelta: d("-4"), ValuationRate: d("6"), BalanceQty: d("16"), BalanceValue: d("96")},
	}
}

func TestFoldLedgerMatchesRunningBalances(t *testing.T) {
	v := FoldLedger(ledgerFixture())
	require.True(t, v.Qty.Equal(d("16")))
	require.True(t, v.Value.Equal(d("96")))
	require.True(t, v.Rate.Equal(d("6")))
}

func TestNextBinEqualsFullFold(t *testing.T) {
	entries := ledgerFixture()
	at := time.Now()

	bin := Bin{ItemID: 1, LocationID: 2, Qty: decimal.Zero, Value: decimal.Zero, Rate: decimal.Zero}
	for _, e := range entries {
		bin = NextBin(bin, e.QtyDelta, e.ValuationRate, at)
	}

	folded := FoldLedger(entries)
	require.True(t, bin.Qty.Equal(folded.Qty))
	require.True(t, bin.Value.Equal(folded.Value))
	require.True(t, bin.Rate.Equal(folded.Rate))
	require.Equal(t, int64(1), bin.ItemID)
	require.Equal(t, int64(2), bin.LocationID)
	require.Equal(t, at, bin.UpdatedAt)
}

func TestVerifyFoldAcceptsConsistentChain(t *testing.T) {
	require.NoError(t, VerifyFold(ledgerFixture()))
	require.NoError(t, VerifyFold(nil))
}

func TestVerifyFoldDetectsTamperedBalance(t *testing.T) {
	entries := ledgerFixture()
	entries[1].BalanceValue = d("119")
	require.ErrorIs(t, VerifyFold(entries), ErrIntegrity)

	entries = ledgerFixture()
	entries[2].BalanceQty = d("15")
	require.ErrorIs(t, VerifyFold(entries), ErrIntegrity)
}

func TestVerifyFoldDetectsTamperedDelta(t *testing.T) {
	entries := ledgerFixture()
	entries[2].QtyDelta = d("-5")
	require.ErrorIs(t, VerifyFold(entries), ErrIntegrity)
}
