package stock

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType enumerates supported stock entry documents.
type EntryType string

const (
	// EntryTypeReceipt books external stock into a target location.
	EntryTypeReceipt EntryType = "RECEIPT"
	// EntryTypeIssue books stock out of a source location.
	EntryTypeIssue EntryType = "ISSUE"
	// EntryTypeTransfer moves stock between two locations at conserved value.
	EntryTypeTransfer EntryType = "TRANSFER"
	// EntryTypeManufacture consumes raw-material lines and produces finished-good lines.
	EntryTypeManufacture EntryType = "MANUFACTURE"
	// EntryTypeRepack moves stock between locations while changing packing.
	EntryTypeRepack EntryType = "REPACK"
	// EntryTypeOpening seeds the ledger with an opening balance.
	EntryTypeOpening EntryType = "OPENING"
)

// EntryStatus enumerates the document lifecycle.
type EntryStatus string

const (
	StatusDraft     EntryStatus = "DRAFT"
	StatusSubmitted EntryStatus = "SUBMITTED"
	StatusCancelled EntryStatus = "CANCELLED"
)

// locationRule describes whether a side is required, forbidden or free per line.
type locationRule int

const (
	locationRequired locationRule = iota
	locationForbidden
	// locationEither means each line carries exactly one of the two sides and the
	// document must contain at least one line of each kind.
	locationEither
)

type entryShape struct {
	source locationRule
	target locationRule
	// pairedLines indicates source and target live on the same line and the
	// incoming rate is the outgoing rate of that line (value conservation).
	pairedLines bool
	// rateRequired forces an explicit unit rate per line. Stock entering from
	// outside the system has no prior rate to fall back on.
	rateRequired bool
}

// entryShapes is the per-type capability table. Validation consults this table
// instead of branching on the type anywhere else.
var entryShapes = map[EntryType]entryShape{
	EntryTypeReceipt:     {source: locationForbidden, target: locationRequired, rateRequired: true},
	EntryTypeOpening:     {source: locationForbidden, target: locationRequired, rateRequired: true},
	EntryTypeIssue:       {source: locationRequired, target: locationForbidden},
	EntryTypeTransfer:    {source: locationRequired, target: locationRequired, pairedLines: true},
	EntryTypeRepack:      {source: locationRequired, target: locationRequired, pairedLines: true},
	EntryTypeManufacture: {source: locationEither, target: locationEither},
}

// Entry is the user-authored stock movement document. Only Submit creates
// ledger effects; a Draft can be edited or discarded freely.
type Entry struct {
	ID        uuid.UUID
	Code      string
	Type      EntryType
	Status    EntryStatus
	PostedAt  time.Time
	Note      string
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []EntryLine
}

// EntryLine describes one requested movement. SourceLocationID/TargetLocationID
// of zero mean the side is absent. UnitRate is optional; when nil the rate is
// derived (source bin rate for transfers, target bin rate otherwise).
type EntryLine struct {
	ID               int64
	EntryID          uuid.UUID
	LineNo           int
	ItemID           int64
	Qty              decimal.Decimal
	UnitRate         *decimal.Decimal
	SourceLocationID int64
	TargetLocationID int64
}

// LedgerEntry is one immutable, appended quantity/value change for an item at a
// location. Entries are never mutated or deleted; corrections append.
type LedgerEntry struct {
	ID            int64
	ItemID        int64
	LocationID    int64
	Sequence      int64
	QtyDelta      decimal.Decimal
	ValuationRate decimal.Decimal
	BalanceQty    decimal.Decimal
	BalanceValue  decimal.Decimal
	VoucherID     uuid.UUID
	VoucherLine   int
	ReversalOf    *int64
	PostedAt      time.Time
	CreatedAt     time.Time
}

// Bin is the materialized current balance per (item, location). It is always
// re-derivable by folding the ledger and must never diverge from it.
type Bin struct {
	ItemID     int64
	LocationID int64
	Qty        decimal.Decimal
	Value      decimal.Decimal
	Rate       decimal.Decimal
	UpdatedAt  time.Time
}

// LedgerFilter bounds a history query. FromSequence makes the scan restartable.
type LedgerFilter struct {
	ItemID       int64
	LocationID   int64
	FromSequence int64
	Limit        int
}

// Balance is the reply of a balance query.
type Balance struct {
	ItemID     int64
	LocationID int64
	Qty        decimal.Decimal
	Value      decimal.Decimal
	Rate       decimal.Decimal
	AsOf       int64
}

// Domain errors. All are terminal for the request except ErrConflict, which the
// service retries with a fresh snapshot before surfacing ErrContention.
var (
	ErrValidation        = errors.New("stock: invalid entry")
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	ErrInvalidState      = errors.New("stock: entry status does not allow this operation")
	ErrConflict          = errors.New("stock: ledger tail moved, retry with fresh snapshot")
	ErrContention        = errors.New("stock: contention retry budget exhausted")
	ErrPostingFailed     = errors.New("stock: journal posting rejected")
	ErrIntegrity         = errors.New("stock: ledger fold mismatch")
	ErrEntryNotFound     = errors.New("stock: entry not found")
	ErrBinNotFound       = errors.New("stock: bin not found")
)

// valueScale is the decimal scale values are rounded to at ledger boundaries.
// Rates are kept at full precision between movements.
const valueScale = 4

func roundValue(d decimal.Decimal) decimal.Decimal {
	return d.Round(valueScale)
}
