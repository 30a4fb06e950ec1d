package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountHint is a coarse classification the accounting collaborator resolves
// to a real account. The engine never models the chart of accounts.
type AccountHint string

const (
	HintStockIn         AccountHint = "stock.in"
	HintStockOut        AccountHint = "stock.out"
	HintTransferNeutral AccountHint = "stock.transfer"
)

// JournalDirection marks a journal line as debit or credit.
type JournalDirection string

const (
	DirectionDebit  JournalDirection = "DEBIT"
	DirectionCredit JournalDirection = "CREDIT"
)

// JournalLine carries one value delta for the accounting collaborator.
type JournalLine struct {
	Hint       AccountHint
	Direction  JournalDirection
	Amount     decimal.Decimal
	ItemID     int64
	LocationID int64
}

// JournalBatch is the posting implied by one submission or cancellation.
type JournalBatch struct {
	VoucherID uuid.UUID
	Code      string
	Memo      string
	PostedAt  time.Time
	Lines     []JournalLine
}

// GLPoster accepts journal batches. It is invoked as the last step inside the
// submission transaction, so a rejected posting rolls the submission back.
type GLPoster interface {
	PostJournal(ctx context.Context, batch JournalBatch) error
}
