package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, id uuid.UUID) (Entry, error)
	QueryHistory(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	GetBin(ctx context.Context, key BinKey) (Bin, error)
	ListBinKeys(ctx context.Context) ([]BinKey, error)
}

// TxRepository exposes the operations available inside one atomic submission.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry Entry) error
	ReplaceEntryLines(ctx context.Context, entryID uuid.UUID, lines []EntryLine) error
	DeleteEntry(ctx context.Context, entryID uuid.UUID) error
	UpdateEntryStatus(ctx context.Context, entryID uuid.UUID, status EntryStatus, at time.Time) error
	GetBin(ctx context.Context, key BinKey) (Bin, error)
	GetLedgerTail(ctx context.Context, key BinKey) (int64, error)
	AppendLedgerEntries(ctx context.Context, entries []LedgerEntry) error
	UpsertBin(ctx context.Context, bin Bin) error
	ReplayLedger(ctx context.Context, key BinKey, asOf int64) ([]LedgerEntry, error)
	EntriesForVoucher(ctx context.Context, voucherID uuid.UUID) ([]LedgerEntry, error)
}

// ItemCatalog supplies per-item policy flags.
type ItemCatalog interface {
	IsStockTracked(ctx context.Context, itemID int64) (bool, error)
	AllowsNegativeStock(ctx context.Context, itemID int64) (bool, error)
}

// LocationCatalog answers location existence checks.
type LocationCatalog interface {
	Exists(ctx context.Context, locationID int64) (bool, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives counters for ledger appends and append conflicts.
type MetricsRecorder interface {
	ObserveLedgerAppend(voucherType string, rows int)
	ObserveSubmitConflict()
}

// Service governs the stock entry lifecycle and owns every ledger append.
type Service struct {
	repo        RepositoryPort
	items       ItemCatalog
	locations   LocationCatalog
	gl          GLPoster
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	balances    *BalanceCache
	metrics     MetricsRecorder
	maxRetries  int
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxConflictRetries bounds how often a submission is recomputed after an
	// optimistic append conflict before ErrContention surfaces.
	MaxConflictRetries int
	// Metrics is optional; nil disables instrumentation.
	Metrics MetricsRecorder
}

// NewService builds Service.
func NewService(repo RepositoryPort, items ItemCatalog, locations LocationCatalog, gl GLPoster, audit AuditPort, idem *shared.IdempotencyStore, balances *BalanceCache, cfg ServiceConfig) *Service {
	retries := cfg.MaxConflictRetries
	if retries <= 0 {
		retries = 3
	}
	return &Service{
		repo:        repo,
		items:       items,
		locations:   locations,
		gl:          gl,
		audit:       audit,
		idempotency: idem,
		balances:    balances,
		metrics:     cfg.Metrics,
		maxRetries:  retries,
		now:         time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// LineInput describes one requested movement line.
type LineInput struct {
	ItemID           int64
	Qty              decimal.Decimal
	UnitRate         *decimal.Decimal
	SourceLocationID int64
	TargetLocationID int64
}

// CreateEntryInput describes a new draft document.
type CreateEntryInput struct {
	Code      string
	Type      EntryType
	Note      string
	CreatedBy int64
	Lines     []LineInput
}

// CreateDraft persists a new entry in DRAFT status. Drafts have no ledger
// effect and may be edited or discarded freely.
func (s *Service) CreateDraft(ctx context.Context, input CreateEntryInput) (Entry, error) {
	if _, ok := entryShapes[input.Type]; !ok {
		return Entry{}, fmt.Errorf("%w: unknown entry type %q", ErrValidation, input.Type)
	}
	if len(input.Lines) == 0 {
		return Entry{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	now := s.now().UTC()
	entry := Entry{
		ID:        uuid.New(),
		Code:      input.Code,
		Type:      input.Type,
		Status:    StatusDraft,
		Note:      input.Note,
		CreatedBy: input.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
		Lines:     toLines(uuid.Nil, input.Lines),
	}
	if entry.Code == "" {
		entry.Code = fmt.Sprintf("STE-%d", now.UnixNano())
	}
	for i := range entry.Lines {
		entry.Lines[i].EntryID = entry.ID
		if entry.Lines[i].Qty.Sign() <= 0 {
			return Entry{}, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i+1)
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// UpdateDraft replaces the line list wholesale. Valid only in DRAFT; no history
// of prior draft edits is retained.
func (s *Service) UpdateDraft(ctx context.Context, entryID uuid.UUID, lines []LineInput) (Entry, error) {
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.Status != StatusDraft {
		return Entry{}, ErrInvalidState
	}
	if len(lines) == 0 {
		return Entry{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	replacement := toLines(entry.ID, lines)
	for i, line := range replacement {
		if line.Qty.Sign() <= 0 {
			return Entry{}, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i+1)
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.ReplaceEntryLines(ctx, entry.ID, replacement)
	})
	if err != nil {
		return Entry{}, err
	}
	entry.Lines = replacement
	entry.UpdatedAt = s.now().UTC()
	return entry, nil
}

// DiscardDraft removes a draft without leaving a ledger trace.
func (s *Service) DiscardDraft(ctx context.Context, entryID uuid.UUID) error {
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != StatusDraft {
		return ErrInvalidState
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteEntry(ctx, entry.ID)
	})
}

// GetEntry loads a document with its lines.
func (s *Service) GetEntry(ctx context.Context, entryID uuid.UUID) (Entry, error) {
	return s.repo.GetEntry(ctx, entryID)
}

// Submit transitions DRAFT → SUBMITTED: validation, valuation, one atomic
// ledger append, bin updates and the GL posting all succeed together or the
// submission has no effect at all.
func (s *Service) Submit(ctx context.Context, entryID uuid.UUID, actorID int64) (Entry, error) {
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.Status != StatusDraft {
		return Entry{}, ErrInvalidState
	}
	policies, err := s.validateForSubmit(ctx, entry)
	if err != nil {
		return Entry{}, err
	}

	key := fmt.Sprintf("stock:submit:%s", entry.ID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return Entry{}, err
		}
		insertedKey = true
	}

	postedAt := s.now().UTC()
	var touched []BinKey
	var rows int
	err = s.withConflictRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		keys, appended, appendErr := s.postSubmission(ctx, tx, entry, policies, postedAt)
		touched = keys
		rows = appended
		return appendErr
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Entry{}, err
	}

	entry.Status = StatusSubmitted
	entry.PostedAt = postedAt
	if s.metrics != nil {
		s.metrics.ObserveLedgerAppend(string(entry.Type), rows)
	}
	s.invalidateBalances(ctx, touched)
	s.recordAudit(ctx, actorID, "stock.submit", entry)
	return entry, nil
}

// Cancel transitions SUBMITTED → CANCELLED by appending compensating entries
// at the current ledger tail, each at its original valuation rate. History is
// never deleted; to correct a cancelled movement, create a new entry.
func (s *Service) Cancel(ctx context.Context, entryID uuid.UUID, actorID int64) (Entry, error) {
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.Status != StatusSubmitted {
		return Entry{}, ErrInvalidState
	}
	// Cancellation skips the stock-tracked check: a submitted movement must
	// stay reversible after its item is deactivated or untracked. Only the
	// negative stock policy matters for the compensating entries.
	policies, err := s.negativeStockPolicies(ctx, entry)
	if err != nil {
		return Entry{}, err
	}

	key := fmt.Sprintf("stock:cancel:%s", entry.ID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return Entry{}, err
		}
		insertedKey = true
	}

	cancelledAt := s.now().UTC()
	var touched []BinKey
	var rows int
	err = s.withConflictRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		keys, appended, revErr := s.postReversal(ctx, tx, entry, policies, cancelledAt)
		touched = keys
		rows = appended
		return revErr
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Entry{}, err
	}

	entry.Status = StatusCancelled
	if s.metrics != nil {
		s.metrics.ObserveLedgerAppend(string(entry.Type), rows)
	}
	s.invalidateBalances(ctx, touched)
	s.recordAudit(ctx, actorID, "stock.cancel", entry)
	return entry, nil
}

// GetBalance returns the current (or as-of) balance for one bin. The latest
// balance is served from the bin projection, optionally through the redis
// read cache; as-of queries replay the ledger fold.
func (s *Service) GetBalance(ctx context.Context, itemID, locationID, asOfSequence int64) (Balance, error) {
	if itemID == 0 || locationID == 0 {
		return Balance{}, fmt.Errorf("%w: item and location required", ErrValidation)
	}
	binKey := BinKey{ItemID: itemID, LocationID: locationID}
	if asOfSequence == 0 {
		if s.balances != nil {
			if bal, ok := s.balances.Get(ctx, binKey); ok {
				return bal, nil
			}
		}
		bin, err := s.repo.GetBin(ctx, binKey)
		if err != nil {
			if errors.Is(err, ErrBinNotFound) {
				return Balance{ItemID: itemID, LocationID: locationID, Qty: decimal.Zero, Value: decimal.Zero, Rate: decimal.Zero}, nil
			}
			return Balance{}, err
		}
		bal := Balance{ItemID: itemID, LocationID: locationID, Qty: bin.Qty, Value: bin.Value, Rate: bin.Rate}
		if s.balances != nil {
			s.balances.Set(ctx, bal)
		}
		return bal, nil
	}

	var folded Valuation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ReplayLedger(ctx, binKey, asOfSequence)
		if err != nil {
			return err
		}
		folded = FoldLedger(entries)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return Balance{ItemID: itemID, LocationID: locationID, Qty: folded.Qty, Value: folded.Value, Rate: folded.Rate, AsOf: asOfSequence}, nil
}

// GetHistory lists ledger entries for one bin in ascending sequence order.
func (s *Service) GetHistory(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.ItemID == 0 || filter.LocationID == 0 {
		return nil, fmt.Errorf("%w: item and location required", ErrValidation)
	}
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.QueryHistory(ctx, filter)
}

// RebuildBin replays the full ledger for one bin and repairs the projection.
// The folded result must equal the incrementally maintained value; a mismatch
// is repaired but reported as ErrIntegrity so operators notice.
func (s *Service) RebuildBin(ctx context.Context, binKey BinKey) (Bin, error) {
	var rebuilt Bin
	var divergent bool
	err := s.withConflictRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ReplayLedger(ctx, binKey, 0)
		if err != nil {
			return err
		}
		if err := VerifyFold(entries); err != nil {
			return err
		}
		folded := FoldLedger(entries)
		current, err := tx.GetBin(ctx, binKey)
		if err != nil && !errors.Is(err, ErrBinNotFound) {
			return err
		}
		divergent = !current.Qty.Equal(folded.Qty) || !current.Value.Equal(folded.Value)
		rebuilt = Bin{
			ItemID:     binKey.ItemID,
			LocationID: binKey.LocationID,
			Qty:        folded.Qty,
			Value:      folded.Value,
			Rate:       folded.Rate,
			UpdatedAt:  s.now().UTC(),
		}
		return tx.UpsertBin(ctx, rebuilt)
	})
	if err != nil {
		return Bin{}, err
	}
	s.invalidateBalances(ctx, []BinKey{binKey})
	if divergent {
		return rebuilt, ErrIntegrity
	}
	return rebuilt, nil
}

// ListBinKeys exposes every known bin, used by the integrity job.
func (s *Service) ListBinKeys(ctx context.Context) ([]BinKey, error) {
	return s.repo.ListBinKeys(ctx)
}

// withConflictRetry re-runs fn with a fresh snapshot after optimistic append
// conflicts, up to the configured budget, then surfaces ErrContention.
func (s *Service) withConflictRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if s.metrics != nil {
			s.metrics.ObserveSubmitConflict()
		}
	}
	return fmt.Errorf("%w: %v", ErrContention, err)
}

// binState tracks the evolving snapshot of one contended key during a
// submission: the bin valuation plus the assumed ledger tail.
type binState struct {
	bin  Bin
	tail int64
}

// loadBinStates reads bins and tails for the touched keys in a globally
// deterministic order (item id, then location id).
func loadBinStates(ctx context.Context, tx TxRepository, keys []BinKey) (map[BinKey]*binState, error) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemID != keys[j].ItemID {
			return keys[i].ItemID < keys[j].ItemID
		}
		return keys[i].LocationID < keys[j].LocationID
	})
	states := make(map[BinKey]*binState, len(keys))
	for _, key := range keys {
		if _, ok := states[key]; ok {
			continue
		}
		bin, err := tx.GetBin(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrBinNotFound) {
				return nil, err
			}
			bin = Bin{ItemID: key.ItemID, LocationID: key.LocationID, Qty: decimal.Zero, Value: decimal.Zero, Rate: decimal.Zero}
		}
		tail, err := tx.GetLedgerTail(ctx, key)
		if err != nil {
			return nil, err
		}
		states[key] = &binState{bin: bin, tail: tail}
	}
	return states, nil
}

func (s *Service) postSubmission(ctx context.Context, tx TxRepository, entry Entry, policies map[int64]bool, postedAt time.Time) ([]BinKey, int, error) {
	shape := entryShapes[entry.Type]
	keys := touchedKeys(entry)
	states, err := loadBinStates(ctx, tx, keys)
	if err != nil {
		return nil, 0, err
	}

	var ledger []LedgerEntry
	step := func(key BinKey, delta decimal.Decimal, rate *decimal.Decimal, lineNo int) (decimal.Decimal, error) {
		state := states[key]
		current := Valuation{Qty: state.bin.Qty, Value: state.bin.Value, Rate: state.bin.Rate}
		next, appliedRate, err := NextValuation(current, Movement{
			QtyDelta:      delta,
			IncomingRate:  rate,
			AllowNegative: policies[key.ItemID],
		})
		if err != nil {
			return decimal.Zero, fmt.Errorf("line %d item %d location %d: %w", lineNo, key.ItemID, key.LocationID, err)
		}
		state.tail++
		ledger = append(ledger, LedgerEntry{
			ItemID:        key.ItemID,
			LocationID:    key.LocationID,
			Sequence:      state.tail,
			QtyDelta:      delta,
			ValuationRate: appliedRate,
			BalanceQty:    next.Qty,
			BalanceValue:  next.Value,
			VoucherID:     entry.ID,
			VoucherLine:   lineNo,
			PostedAt:      postedAt,
			CreatedAt:     postedAt,
		})
		state.bin = NextBin(state.bin, delta, appliedRate, postedAt)
		return appliedRate, nil
	}

	for _, line := range entry.Lines {
		var outRate decimal.Decimal
		if line.SourceLocationID != 0 {
			rate, err := step(BinKey{ItemID: line.ItemID, LocationID: line.SourceLocationID}, line.Qty.Neg(), nil, line.LineNo)
			if err != nil {
				return nil, 0, err
			}
			outRate = rate
		}
		if line.TargetLocationID != 0 {
			incoming := line.UnitRate
			if shape.pairedLines && line.SourceLocationID != 0 {
				// Value conservation: the target side of a paired line enters
				// at exactly the rate the source side left with.
				incoming = &outRate
			}
			if _, err := step(BinKey{ItemID: line.ItemID, LocationID: line.TargetLocationID}, line.Qty, incoming, line.LineNo); err != nil {
				return nil, 0, err
			}
		}
	}

	if err := tx.AppendLedgerEntries(ctx, ledger); err != nil {
		return nil, 0, err
	}
	for _, state := range states {
		if err := tx.UpsertBin(ctx, state.bin); err != nil {
			return nil, 0, err
		}
	}
	if err := tx.UpdateEntryStatus(ctx, entry.ID, StatusSubmitted, postedAt); err != nil {
		return nil, 0, err
	}
	if s.gl != nil {
		batch := journalBatch(entry, ledger, postedAt, false)
		if err := s.gl.PostJournal(ctx, batch); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrPostingFailed, err)
		}
	}
	return keys, len(ledger), nil
}

func (s *Service) postReversal(ctx context.Context, tx TxRepository, entry Entry, policies map[int64]bool, cancelledAt time.Time) ([]BinKey, int, error) {
	originals, err := tx.EntriesForVoucher(ctx, entry.ID)
	if err != nil {
		return nil, 0, err
	}
	if len(originals) == 0 {
		return nil, 0, fmt.Errorf("%w: no ledger entries for voucher %s", ErrIntegrity, entry.ID)
	}

	keys := make([]BinKey, 0, len(originals))
	for _, orig := range originals {
		keys = append(keys, BinKey{ItemID: orig.ItemID, LocationID: orig.LocationID})
	}
	states, err := loadBinStates(ctx, tx, keys)
	if err != nil {
		return nil, 0, err
	}

	var ledger []LedgerEntry
	for _, orig := range originals {
		key := BinKey{ItemID: orig.ItemID, LocationID: orig.LocationID}
		state := states[key]
		delta := orig.QtyDelta.Neg()
		// A cancellation never recomputes a weighted rate: the compensating
		// entry undoes the recorded effect at the original rate. The negative
		// stock policy still applies when reversing a receipt that has since
		// been drawn down.
		if delta.Sign() < 0 {
			newQty := state.bin.Qty.Add(delta)
			if state.bin.Qty.Sign() == 0 || (newQty.Sign() < 0 && !policies[key.ItemID]) {
				return nil, 0, fmt.Errorf("item %d location %d: %w", key.ItemID, key.LocationID, ErrInsufficientStock)
			}
		}
		state.tail++
		origID := orig.ID
		next := applyDelta(Valuation{Qty: state.bin.Qty, Value: state.bin.Value, Rate: state.bin.Rate}, delta, orig.ValuationRate)
		ledger = append(ledger, LedgerEntry{
			ItemID:        key.ItemID,
			LocationID:    key.LocationID,
			Sequence:      state.tail,
			QtyDelta:      delta,
			ValuationRate: orig.ValuationRate,
			BalanceQty:    next.Qty,
			BalanceValue:  next.Value,
			VoucherID:     entry.ID,
			VoucherLine:   orig.VoucherLine,
			ReversalOf:    &origID,
			PostedAt:      cancelledAt,
			CreatedAt:     cancelledAt,
		})
		state.bin = NextBin(state.bin, delta, orig.ValuationRate, cancelledAt)
	}

	if err := tx.AppendLedgerEntries(ctx, ledger); err != nil {
		return nil, 0, err
	}
	for _, state := range states {
		if err := tx.UpsertBin(ctx, state.bin); err != nil {
			return nil, 0, err
		}
	}
	if err := tx.UpdateEntryStatus(ctx, entry.ID, StatusCancelled, cancelledAt); err != nil {
		return nil, 0, err
	}
	if s.gl != nil {
		batch := journalBatch(entry, ledger, cancelledAt, true)
		if err := s.gl.PostJournal(ctx, batch); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrPostingFailed, err)
		}
	}
	return keys, len(ledger), nil
}

// journalBatch derives the posting implied by the value deltas. Account
// resolution is the collaborator's problem; the engine only supplies amounts
// and per-movement hints.
func journalBatch(entry Entry, ledger []LedgerEntry, at time.Time, reversal bool) JournalBatch {
	transferNeutral := entryShapes[entry.Type].pairedLines
	lines := make([]JournalLine, 0, len(ledger))
	for _, e := range ledger {
		amount := roundValue(e.QtyDelta.Mul(e.ValuationRate))
		line := JournalLine{ItemID: e.ItemID, LocationID: e.LocationID, Amount: amount.Abs()}
		if line.Amount.IsZero() {
			continue
		}
		switch {
		case transferNeutral:
			line.Hint = HintTransferNeutral
		case reversal:
			// A reversal keeps the original movement's hint so the posting
			// reverses the same account pair; only the direction flips. The
			// compensating delta has the opposite sign of the original.
			if amount.Sign() > 0 {
				line.Hint = HintStockOut
			} else {
				line.Hint = HintStockIn
			}
		case amount.Sign() > 0:
			line.Hint = HintStockIn
		default:
			line.Hint = HintStockOut
		}
		if amount.Sign() > 0 {
			line.Direction = DirectionDebit
		} else {
			line.Direction = DirectionCredit
		}
		lines = append(lines, line)
	}
	memo := fmt.Sprintf("Stock entry %s", entry.Code)
	if reversal {
		memo = fmt.Sprintf("Reversal of stock entry %s", entry.Code)
	}
	return JournalBatch{VoucherID: entry.ID, Code: entry.Code, Memo: memo, PostedAt: at, Lines: lines}
}

// validateForSubmit enforces the per-type shape and consults the catalogs. It
// returns the allow-negative policy per item for the valuation step.
func (s *Service) validateForSubmit(ctx context.Context, entry Entry) (map[int64]bool, error) {
	shape, ok := entryShapes[entry.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entry type %q", ErrValidation, entry.Type)
	}
	if len(entry.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}

	var sawSource, sawTarget bool
	for i, line := range entry.Lines {
		n := i + 1
		if line.ItemID == 0 {
			return nil, fmt.Errorf("%w: line %d item required", ErrValidation, n)
		}
		if line.Qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, n)
		}
		if line.UnitRate != nil && line.UnitRate.Sign() < 0 {
			return nil, fmt.Errorf("%w: line %d rate must not be negative", ErrValidation, n)
		}
		if shape.rateRequired && line.UnitRate == nil {
			return nil, fmt.Errorf("%w: line %d unit rate required", ErrValidation, n)
		}
		hasSource := line.SourceLocationID != 0
		hasTarget := line.TargetLocationID != 0
		switch shape.source {
		case locationRequired:
			if !hasSource {
				return nil, fmt.Errorf("%w: line %d source location required", ErrValidation, n)
			}
		case locationForbidden:
			if hasSource {
				return nil, fmt.Errorf("%w: line %d must not have a source location", ErrValidation, n)
			}
		}
		switch shape.target {
		case locationRequired:
			if !hasTarget {
				return nil, fmt.Errorf("%w: line %d target location required", ErrValidation, n)
			}
		case locationForbidden:
			if hasTarget {
				return nil, fmt.Errorf("%w: line %d must not have a target location", ErrValidation, n)
			}
		}
		if shape.source == locationEither {
			if hasSource == hasTarget {
				return nil, fmt.Errorf("%w: line %d needs exactly one of source or target", ErrValidation, n)
			}
		}
		if shape.pairedLines && line.SourceLocationID == line.TargetLocationID {
			return nil, fmt.Errorf("%w: line %d source and target location must differ", ErrValidation, n)
		}
		sawSource = sawSource || hasSource
		sawTarget = sawTarget || hasTarget
	}
	if shape.source == locationEither && (!sawSource || !sawTarget) {
		return nil, fmt.Errorf("%w: %s needs at least one consuming and one producing line", ErrValidation, entry.Type)
	}

	for _, id := range locationIDs(entry) {
		exists, err := s.locations.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: location %d does not exist", ErrValidation, id)
		}
	}
	return s.itemPolicies(ctx, entry)
}

// itemPolicies checks every item is stock-tracked and gathers the negative
// stock policy flags.
func (s *Service) itemPolicies(ctx context.Context, entry Entry) (map[int64]bool, error) {
	seen := make(map[int64]struct{})
	for _, line := range entry.Lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		tracked, err := s.items.IsStockTracked(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}
		if !tracked {
			return nil, fmt.Errorf("%w: item %d is not stock tracked", ErrValidation, line.ItemID)
		}
	}
	return s.negativeStockPolicies(ctx, entry)
}

// negativeStockPolicies gathers the allow-negative flag per item.
func (s *Service) negativeStockPolicies(ctx context.Context, entry Entry) (map[int64]bool, error) {
	policies := make(map[int64]bool)
	for _, line := range entry.Lines {
		if _, ok := policies[line.ItemID]; ok {
			continue
		}
		allowNeg, err := s.items.AllowsNegativeStock(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}
		policies[line.ItemID] = allowNeg
	}
	return policies, nil
}

func (s *Service) invalidateBalances(ctx context.Context, keys []BinKey) {
	if s.balances == nil {
		return
	}
	s.balances.Invalidate(ctx, keys)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entry Entry) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_entry",
		EntityID: entry.ID.String(),
		Meta: map[string]any{
			"code":  entry.Code,
			"type":  string(entry.Type),
			"lines": len(entry.Lines),
		},
		At: s.now().UTC(),
	})
}

func toLines(entryID uuid.UUID, inputs []LineInput) []EntryLine {
	lines := make([]EntryLine, 0, len(inputs))
	for i, in := range inputs {
		lines = append(lines, EntryLine{
			EntryID:          entryID,
			LineNo:           i + 1,
			ItemID:           in.ItemID,
			Qty:              in.Qty,
			UnitRate:         in.UnitRate,
			SourceLocationID: in.SourceLocationID,
			TargetLocationID: in.TargetLocationID,
		})
	}
	return lines
}

func touchedKeys(entry Entry) []BinKey {
	seen := make(map[BinKey]struct{})
	var keys []BinKey
	add := func(key BinKey) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, line := range entry.Lines {
		if line.SourceLocationID != 0 {
			add(BinKey{ItemID: line.ItemID, LocationID: line.SourceLocationID})
		}
		if line.TargetLocationID != 0 {
			add(BinKey{ItemID: line.ItemID, LocationID: line.TargetLocationID})
		}
	}
	return keys
}

func locationIDs(entry Entry) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, line := range entry.Lines {
		for _, id := range []int64{line.SourceLocationID, line.TargetLocationID} {
			if id == 0 {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
