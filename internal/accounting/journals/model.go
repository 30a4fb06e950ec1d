// Package journals owns general ledger postings. Every posting is balanced
// and linked back to the business document that produced it.
package journals

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "POSTED"
	JournalStatusVoid   JournalStatus = "VOID"
)

// Sentinel errors for the journals module.
var (
	ErrUnbalanced          = errors.New("accounting: journal lines do not balance")
	ErrTooFewLines         = errors.New("accounting: journal needs at least two lines")
	ErrJournalNotFound     = errors.New("accounting: journal not found")
	ErrInvalidStatus       = errors.New("accounting: journal status does not permit this operation")
	ErrSourceAlreadyLinked = errors.New("accounting: source document already posted")
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64
	Number       int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	PostedAt     time.Time
	Status       JournalStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	JournalID int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}
