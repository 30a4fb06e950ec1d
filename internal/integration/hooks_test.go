package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/accounting/journals"
	"github.com/meridian-pos/meridian/internal/accounting/mappings"
	"github.com/meridian-pos/meridian/internal/stock"
)

const (
	accInventory int64 = 1400
	accGRIR      int64 = 2150
	accCOGS      int64 = 5100
)

type fakeLedger struct {
	inputs []journals.PostingInput
	err    error
}

func (l *fakeLedger) PostJournal(_ context.Context, input journals.PostingInput) (journals.JournalEntry, error) {
	if l.err != nil {
		return journals.JournalEntry{}, l.err
	}
	l.inputs = append(l.inputs, input)
	return journals.JournalEntry{ID: int64(len(l.inputs))}, nil
}

type fakeMappings struct {
	byKey map[string]int64
}

func (m *fakeMappings) Get(_ context.Context, module, key string) (mappings.AccountMapping, error) {
	accountID, ok := m.byKey[key]
	if !ok {
		return mappings.AccountMapping{}, mappings.ErrMappingNotFound
	}
	return mappings.AccountMapping{Module: module, Key: key, AccountID: accountID}, nil
}

func newTestHooks() (*Hooks, *fakeLedger) {
	ledger := &fakeLedger{}
	repo := &fakeMappings{byKey: map[string]int64{
		"stock.in":         accInventory,
		"stock.in.offset":  accGRIR,
		"stock.out":        accInventory,
		"stock.out.offset": accCOGS,
		"stock.transfer":   accInventory,
	}}
	return NewHooks(ledger, repo), ledger
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func batch(lines ...stock.JournalLine) stock.JournalBatch {
	return stock.JournalBatch{
		VoucherID: uuid.MustParse("7a9fd29e-8f5b-4a6e-9d35-2f6f8d2f9e01"),
		Code:      "STE-1",
		Memo:      "Stock entry STE-1",
		PostedAt:  time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Lines:     lines,
	}
}

func lineAmounts(t *testing.T, input journals.PostingInput, accountID int64) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	for _, line := range input.Lines {
		if line.AccountID == accountID {
			return line.Debit, line.Credit
		}
	}
	t.Fatalf("no line for account %d", accountID)
	return decimal.Zero, decimal.Zero
}

func TestPostJournalReceiptDebitsInventory(t *testing.T) {
	hooks, ledger := newTestHooks()

	err := hooks.PostJournal(context.Background(), batch(stock.JournalLine{
		Hint: stock.HintStockIn, Direction: stock.DirectionDebit, Amount: amt("50"), ItemID: 1, LocationID: 10,
	}))
	require.NoError(t, err)
	require.Len(t, ledger.inputs, 1)

	input := ledger.inputs[0]
	require.Equal(t, "STOCK.ENTRY", input.SourceModule)
	require.Equal(t, "Stock entry STE-1", input.Memo)
	require.Len(t, input.Lines, 2)

	debit, credit := lineAmounts(t, input, accInventory)
	require.True(t, debit.Equal(amt("50")))
	require.True(t, credit.IsZero())
	debit, credit = lineAmounts(t, input, accGRIR)
	require.True(t, debit.IsZero())
	require.True(t, credit.Equal(amt("50")))
}

func TestPostJournalReceiptReversalReversesSamePair(t *testing.T) {
	hooks, ledger := newTestHooks()

	// A cancelled receipt arrives as stock.in with a credit direction; the
	// posting must undo the receipt legs, not touch COGS.
	err := hooks.PostJournal(context.Background(), batch(stock.JournalLine{
		Hint: stock.HintStockIn, Direction: stock.DirectionCredit, Amount: amt("50"), ItemID: 1, LocationID: 10,
	}))
	require.NoError(t, err)
	require.Len(t, ledger.inputs, 1)
	require.Len(t, ledger.inputs[0].Lines, 2)

	debit, credit := lineAmounts(t, ledger.inputs[0], accInventory)
	require.True(t, debit.IsZero())
	require.True(t, credit.Equal(amt("50")))
	debit, credit = lineAmounts(t, ledger.inputs[0], accGRIR)
	require.True(t, debit.Equal(amt("50")))
	require.True(t, credit.IsZero())
}

func TestPostJournalIssueChargesCOGS(t *testing.T) {
	hooks, ledger := newTestHooks()

	err := hooks.PostJournal(context.Background(), batch(stock.JournalLine{
		Hint: stock.HintStockOut, Direction: stock.DirectionCredit, Amount: amt("24"), ItemID: 1, LocationID: 10,
	}))
	require.NoError(t, err)
	require.Len(t, ledger.inputs, 1)

	debit, credit := lineAmounts(t, ledger.inputs[0], accInventory)
	require.True(t, debit.IsZero())
	require.True(t, credit.Equal(amt("24")))
	debit, credit = lineAmounts(t, ledger.inputs[0], accCOGS)
	require.True(t, debit.Equal(amt("24")))
	require.True(t, credit.IsZero())
}

func TestPostJournalTransferNetsToNothing(t *testing.T) {
	hooks, ledger := newTestHooks()

	// Both sides of a transfer hit the same inventory account; the value never
	// leaves it, so no journal is warranted.
	err := hooks.PostJournal(context.Background(), batch(
		stock.JournalLine{Hint: stock.HintTransferNeutral, Direction: stock.DirectionCredit, Amount: amt("20"), ItemID: 1, LocationID: 10},
		stock.JournalLine{Hint: stock.HintTransferNeutral, Direction: stock.DirectionDebit, Amount: amt("20"), ItemID: 1, LocationID: 11},
	))
	require.NoError(t, err)
	require.Empty(t, ledger.inputs)
}

func TestPostJournalMergesRepeatedHints(t *testing.T) {
	hooks, ledger := newTestHooks()

	err := hooks.PostJournal(context.Background(), batch(
		stock.JournalLine{Hint: stock.HintStockIn, Direction: stock.DirectionDebit, Amount: amt("50"), ItemID: 1, LocationID: 10},
		stock.JournalLine{Hint: stock.HintStockIn, Direction: stock.DirectionDebit, Amount: amt("30"), ItemID: 2, LocationID: 10},
	))
	require.NoError(t, err)
	require.Len(t, ledger.inputs, 1)
	require.Len(t, ledger.inputs[0].Lines, 2, "per-account amounts are merged")

	debit, _ := lineAmounts(t, ledger.inputs[0], accInventory)
	require.True(t, debit.Equal(amt("80")))
}

func TestPostJournalDeterministicSourceID(t *testing.T) {
	hooks, ledger := newTestHooks()
	line := stock.JournalLine{Hint: stock.HintStockIn, Direction: stock.DirectionDebit, Amount: amt("50"), ItemID: 1, LocationID: 10}

	require.NoError(t, hooks.PostJournal(context.Background(), batch(line)))
	require.NoError(t, hooks.PostJournal(context.Background(), batch(line)))
	require.Len(t, ledger.inputs, 2)
	require.Equal(t, ledger.inputs[0].SourceID, ledger.inputs[1].SourceID,
		"re-posting the same voucher derives the same source id")
	require.NotEqual(t, uuid.Nil, ledger.inputs[0].SourceID)
}

func TestPostJournalAlreadyLinkedIsNoOp(t *testing.T) {
	hooks, ledger := newTestHooks()
	ledger.err = journals.ErrSourceAlreadyLinked

	err := hooks.PostJournal(context.Background(), batch(stock.JournalLine{
		Hint: stock.HintStockIn, Direction: stock.DirectionDebit, Amount: amt("50"),
	}))
	require.NoError(t, err)
}

func TestPostJournalMissingMapping(t *testing.T) {
	ledger := &fakeLedger{}
	hooks := NewHooks(ledger, &fakeMappings{byKey: map[string]int64{}})

	err := hooks.PostJournal(context.Background(), batch(stock.JournalLine{
		Hint: stock.HintStockIn, Direction: stock.DirectionDebit, Amount: amt("50"),
	}))
	require.ErrorIs(t, err, mappings.ErrMappingNotFound)
	require.Empty(t, ledger.inputs)
}

func TestPostJournalSkipsEmptyBatches(t *testing.T) {
	hooks, ledger := newTestHooks()

	require.NoError(t, hooks.PostJournal(context.Background(), batch()))
	require.Empty(t, ledger.inputs)

	err := hooks.PostJournal(context.Background(), stock.JournalBatch{})
	require.Error(t, err, "a batch without a voucher id is malformed")
}
