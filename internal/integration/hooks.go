// Package integration wires stock postings into the general ledger.
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/accounting/journals"
	"github.com/meridian-pos/meridian/internal/accounting/mappings"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/stock"
)

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	PostJournal(ctx context.Context, input journals.PostingInput) (journals.JournalEntry, error)
}

// AccountMappingRepository provides mapping lookups.
type AccountMappingRepository interface {
	Get(ctx context.Context, module, key string) (mappings.AccountMapping, error)
}

// Hooks resolves account hints and posts the implied journal. When the
// caller runs inside a database transaction the posting joins it, so a
// rejected journal rolls the stock submission back with it.
type Hooks struct {
	ledger      Ledger
	mappingRepo AccountMappingRepository
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, mappingRepo AccountMappingRepository) *Hooks {
	return &Hooks{ledger: ledger, mappingRepo: mappingRepo}
}

// PostJournal translates a stock journal batch into a balanced ledger
// posting. Re-posting the same voucher is a no-op.
func (h *Hooks) PostJournal(ctx context.Context, batch stock.JournalBatch) error {
	if h == nil || h.ledger == nil || h.mappingRepo == nil {
		return nil
	}
	if batch.VoucherID == uuid.Nil {
		return errors.New("integration: voucher id required")
	}
	if len(batch.Lines) == 0 {
		return nil
	}

	lines, err := h.resolveLines(ctx, batch.Lines)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}

	memo := batch.Memo
	if memo == "" {
		memo = fmt.Sprintf("Stock Entry %s", batch.Code)
	}
	input := journals.PostingInput{
		Date:         batch.PostedAt,
		SourceModule: "STOCK.ENTRY",
		SourceID:     uuid.NewSHA1(uuid.Nil, []byte("STOCK:"+batch.VoucherID.String())),
		Memo:         memo,
		Lines:        lines,
	}
	if err := input.Validate(); err != nil {
		return err
	}

	if tx, ok := db.TxFromContext(ctx); ok {
		_, err = journals.PostJournalTx(ctx, journals.NewTxRepository(tx), input)
	} else {
		_, err = h.ledger.PostJournal(ctx, input)
	}
	if errors.Is(err, journals.ErrSourceAlreadyLinked) {
		return nil
	}
	return err
}

// resolveLines maps hint lines to accounts and adds the balancing offset for
// one-sided movements. Amounts per account are merged so repeated hints do
// not inflate the journal.
func (h *Hooks) resolveLines(ctx context.Context, in []stock.JournalLine) ([]journals.PostingLineInput, error) {
	type sums struct {
		debit  decimal.Decimal
		credit decimal.Decimal
	}
	totals := map[int64]*sums{}
	order := []int64{}

	add := func(accountID int64, debit, credit decimal.Decimal) {
		entry, ok := totals[accountID]
		if !ok {
			entry = &sums{debit: decimal.Zero, credit: decimal.Zero}
			totals[accountID] = entry
			order = append(order, accountID)
		}
		entry.debit = entry.debit.Add(debit)
		entry.credit = entry.credit.Add(credit)
	}

	for _, line := range in {
		if line.Amount.Sign() == 0 {
			continue
		}
		accountID, err := h.resolveAccount(ctx, mappingKey(line.Hint))
		if err != nil {
			return nil, err
		}
		if line.Direction == stock.DirectionDebit {
			add(accountID, line.Amount, decimal.Zero)
		} else {
			add(accountID, decimal.Zero, line.Amount)
		}
		if key := offsetKey(line.Hint); key != "" {
			offsetAccount, err := h.resolveAccount(ctx, key)
			if err != nil {
				return nil, err
			}
			if line.Direction == stock.DirectionDebit {
				add(offsetAccount, decimal.Zero, line.Amount)
			} else {
				add(offsetAccount, line.Amount, decimal.Zero)
			}
		}
	}

	out := make([]journals.PostingLineInput, 0, len(order))
	for _, accountID := range order {
		entry := totals[accountID]
		net := entry.debit.Sub(entry.credit)
		switch {
		case net.Sign() > 0:
			out = append(out, journals.PostingLineInput{AccountID: accountID, Debit: net, Credit: decimal.Zero})
		case net.Sign() < 0:
			out = append(out, journals.PostingLineInput{AccountID: accountID, Debit: decimal.Zero, Credit: net.Neg()})
		}
	}
	if len(out) == 1 {
		return nil, journals.ErrTooFewLines
	}
	return out, nil
}

func (h *Hooks) resolveAccount(ctx context.Context, key string) (int64, error) {
	mapping, err := h.mappingRepo.Get(ctx, "STOCK", key)
	if err != nil {
		return 0, fmt.Errorf("integration: resolve account for %s: %w", key, err)
	}
	return mapping.AccountID, nil
}

var _ stock.GLPoster = (*Hooks)(nil)
