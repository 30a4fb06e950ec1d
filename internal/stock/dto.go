package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// createEntryRequest is the payload for POST /stock/entries.
type createEntryRequest struct {
	Code  string        `json:"code" validate:"omitempty,max=50"`
	Type  string        `json:"type" validate:"required,oneof=RECEIPT ISSUE TRANSFER MANUFACTURE REPACK OPENING"`
	Note  string        `json:"note" validate:"omitempty,max=500"`
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

// updateEntryRequest replaces a draft's lines wholesale.
type updateEntryRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineRequest struct {
	ItemID           int64            `json:"item_id" validate:"required,gt=0"`
	Qty              decimal.Decimal  `json:"qty" validate:"required"`
	UnitRate         *decimal.Decimal `json:"unit_rate,omitempty"`
	SourceLocationID int64            `json:"source_location_id,omitempty" validate:"gte=0"`
	TargetLocationID int64            `json:"target_location_id,omitempty" validate:"gte=0"`
}

func (r lineRequest) toInput() LineInput {
	return LineInput{
		ItemID:           r.ItemID,
		Qty:              r.Qty,
		UnitRate:         r.UnitRate,
		SourceLocationID: r.SourceLocationID,
		TargetLocationID: r.TargetLocationID,
	}
}

type entryResponse struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	PostedAt  *time.Time     `json:"posted_at,omitempty"`
	Note      string         `json:"note,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Lines     []lineResponse `json:"lines"`
}

type lineResponse struct {
	LineNo           int              `json:"line_no"`
	ItemID           int64            `json:"item_id"`
	Qty              decimal.Decimal  `json:"qty"`
	UnitRate         *decimal.Decimal `json:"unit_rate,omitempty"`
	SourceLocationID int64            `json:"source_location_id,omitempty"`
	TargetLocationID int64            `json:"target_location_id,omitempty"`
}

type balanceResponse struct {
	ItemID     int64           `json:"item_id"`
	LocationID int64           `json:"location_id"`
	Qty        decimal.Decimal `json:"qty"`
	Value      decimal.Decimal `json:"value"`
	Rate       decimal.Decimal `json:"rate"`
	AsOf       int64           `json:"as_of_sequence,omitempty"`
}

type ledgerEntryResponse struct {
	Sequence      int64           `json:"sequence"`
	QtyDelta      decimal.Decimal `json:"qty_delta"`
	ValuationRate decimal.Decimal `json:"valuation_rate"`
	BalanceQty    decimal.Decimal `json:"balance_qty"`
	BalanceValue  decimal.Decimal `json:"balance_value"`
	VoucherID     string          `json:"voucher_id"`
	VoucherLine   int             `json:"voucher_line"`
	ReversalOf    *int64          `json:"reversal_of,omitempty"`
	PostedAt      time.Time       `json:"posted_at"`
}

func toEntryResponse(entry Entry) entryResponse {
	resp := entryResponse{
		ID:        entry.ID.String(),
		Code:      entry.Code,
		Type:      string(entry.Type),
		Status:    string(entry.Status),
		Note:      entry.Note,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
	if !entry.PostedAt.IsZero() {
		t := entry.PostedAt
		resp.PostedAt = &t
	}
	for _, line := range entry.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			LineNo:           line.LineNo,
			ItemID:           line.ItemID,
			Qty:              line.Qty,
			UnitRate:         line.UnitRate,
			SourceLocationID: line.SourceLocationID,
			TargetLocationID: line.TargetLocationID,
		})
	}
	return resp
}

func toLedgerResponses(entries []LedgerEntry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			Sequence:      e.Sequence,
			QtyDelta:      e.QtyDelta,
			ValuationRate: e.ValuationRate,
			BalanceQty:    e.BalanceQty,
			BalanceValue:  e.BalanceValue,
			VoucherID:     e.VoucherID.String(),
			VoucherLine:   e.VoucherLine,
			ReversalOf:    e.ReversalOf,
			PostedAt:      e.PostedAt,
		})
	}
	return out
}
