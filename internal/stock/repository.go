package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/db"
)

// Repository persists the ledger, bins and entry documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction. Every
// submission commits through here, so the whole batch lands or nothing does.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	ctx = db.ContextWithTx(ctx, tx)
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return asConflict(err)
	}
	return nil
}

// GetEntry loads a document header with its lines.
func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (Entry, error) {
	var entry Entry
	var postedAt *time.Time
	var createdBy *int64
	err := r.pool.QueryRow(ctx, `SELECT id, code, entry_type, status, posted_at, note, created_by, created_at, updated_at
FROM stock_entries WHERE id=$1`, id).
		Scan(&entry.ID, &entry.Code, &entry.Type, &entry.Status, &postedAt, &entry.Note, &createdBy, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	if postedAt != nil {
		entry.PostedAt = *postedAt
	}
	if createdBy != nil {
		entry.CreatedBy = *createdBy
	}
	rows, err := r.pool.Query(ctx, `SELECT id, line_no, item_id, qty, unit_rate, source_location_id, target_location_id
FROM stock_entry_lines WHERE entry_id=$1 ORDER BY line_no ASC`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		line := EntryLine{EntryID: id}
		var rate *decimal.Decimal
		var src, dst *int64
		if err := rows.Scan(&line.ID, &line.LineNo, &line.ItemID, &line.Qty, &rate, &src, &dst); err != nil {
			return Entry{}, err
		}
		line.UnitRate = rate
		if src != nil {
			line.SourceLocationID = *src
		}
		if dst != nil {
			line.TargetLocationID = *dst
		}
		entry.Lines = append(entry.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// QueryHistory lists ledger entries ascending from the filter cursor.
func (r *Repository) QueryHistory(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, location_id, sequence, qty_delta, valuation_rate, balance_qty, balance_value, voucher_id, voucher_line, reversal_of, posted_at, created_at
FROM stock_ledger
WHERE item_id=$1 AND location_id=$2 AND sequence > $3
ORDER BY sequence ASC
LIMIT $4`, filter.ItemID, filter.LocationID, filter.FromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// GetBin reads the bin projection outside a transaction.
func (r *Repository) GetBin(ctx context.Context, key BinKey) (Bin, error) {
	return getBin(ctx, r.pool, key)
}

// ListBinKeys enumerates every materialized bin, used by the integrity job.
func (r *Repository) ListBinKeys(ctx context.Context) ([]BinKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, location_id FROM stock_bins ORDER BY item_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []BinKey
	for rows.Next() {
		var key BinKey
		if err := rows.Scan(&key.ItemID, &key.LocationID); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_entries (id, code, entry_type, status, posted_at, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.Code, string(entry.Type), string(entry.Status), nullTime(entry.PostedAt), entry.Note, nullInt(entry.CreatedBy), entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertLines(ctx, entry.ID, entry.Lines)
}

func (r *txRepository) ReplaceEntryLines(ctx context.Context, entryID uuid.UUID, lines []EntryLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_entry_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `UPDATE stock_entries SET updated_at=NOW() WHERE id=$1`, entryID); err != nil {
		return err
	}
	return r.insertLines(ctx, entryID, lines)
}

func (r *txRepository) insertLines(ctx context.Context, entryID uuid.UUID, lines []EntryLine) error {
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO stock_entry_lines (entry_id, line_no, item_id, qty, unit_rate, source_location_id, target_location_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			entryID, line.LineNo, line.ItemID, line.Qty, line.UnitRate, nullInt(line.SourceLocationID), nullInt(line.TargetLocationID))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID uuid.UUID) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_entry_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_entries WHERE id=$1 AND status=$2`, entryID, string(StatusDraft))
	return err
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, entryID uuid.UUID, status EntryStatus, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_entries
SET status=$2, posted_at=CASE WHEN $2=$4 THEN $3 ELSE posted_at END, updated_at=$3
WHERE id=$1`, entryID, string(status), at, string(StatusSubmitted))
	return err
}

func (r *txRepository) GetBin(ctx context.Context, key BinKey) (Bin, error) {
	return getBin(ctx, r.tx, key)
}

func (r *txRepository) GetLedgerTail(ctx context.Context, key BinKey) (int64, error) {
	var tail int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM stock_ledger WHERE item_id=$1 AND location_id=$2`,
		key.ItemID, key.LocationID).Scan(&tail)
	return tail, err
}

// AppendLedgerEntries inserts one pre-ordered batch. The (item, location,
// sequence) primary key turns a stale assumed tail into ErrConflict, and the
// running balances are re-verified against the stored tail before insert; a
// mismatch there is ErrIntegrity and should never happen.
func (r *txRepository) AppendLedgerEntries(ctx context.Context, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return errors.New("stock: empty ledger batch")
	}
	if err := r.verifyBatch(ctx, entries); err != nil {
		return err
	}
	for i := range entries {
		e := &entries[i]
		err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (item_id, location_id, sequence, qty_delta, valuation_rate, balance_qty, balance_value, voucher_id, voucher_line, reversal_of, posted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id`,
			e.ItemID, e.LocationID, e.Sequence, e.QtyDelta, e.ValuationRate, e.BalanceQty, e.BalanceValue, e.VoucherID, e.VoucherLine, e.ReversalOf, e.PostedAt, e.CreatedAt).Scan(&e.ID)
		if err != nil {
			return asConflict(err)
		}
	}
	return nil
}

// verifyBatch folds each key's new entries on top of the stored tail balance.
func (r *txRepository) verifyBatch(ctx context.Context, entries []LedgerEntry) error {
	type tailState struct {
		seq int64
		val Valuation
	}
	tails := make(map[BinKey]tailState)
	for _, e := range entries {
		key := BinKey{ItemID: e.ItemID, LocationID: e.LocationID}
		state, ok := tails[key]
		if !ok {
			var seq int64
			var qty, value, rate decimal.Decimal
			err := r.tx.QueryRow(ctx, `SELECT sequence, balance_qty, balance_value, valuation_rate
FROM stock_ledger WHERE item_id=$1 AND location_id=$2 ORDER BY sequence DESC LIMIT 1`,
				key.ItemID, key.LocationID).Scan(&seq, &qty, &value, &rate)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			state = tailState{seq: seq, val: Valuation{Qty: qty, Value: value, Rate: rate}}
		}
		if e.Sequence != state.seq+1 {
			return ErrConflict
		}
		next := applyDelta(state.val, e.QtyDelta, e.ValuationRate)
		if !next.Qty.Equal(e.BalanceQty) || !next.Value.Equal(e.BalanceValue) {
			return ErrIntegrity
		}
		tails[key] = tailState{seq: e.Sequence, val: next}
	}
	return nil
}

func (r *txRepository) UpsertBin(ctx context.Context, bin Bin) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_bins (item_id, location_id, qty, value, rate, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (item_id, location_id) DO UPDATE SET qty=EXCLUDED.qty, value=EXCLUDED.value, rate=EXCLUDED.rate, updated_at=EXCLUDED.updated_at`,
		bin.ItemID, bin.LocationID, bin.Qty, bin.Value, bin.Rate, bin.UpdatedAt)
	return asConflict(err)
}

func (r *txRepository) ReplayLedger(ctx context.Context, key BinKey, asOf int64) ([]LedgerEntry, error) {
	query := `SELECT id, item_id, location_id, sequence, qty_delta, valuation_rate, balance_qty, balance_value, voucher_id, voucher_line, reversal_of, posted_at, created_at
FROM stock_ledger WHERE item_id=$1 AND location_id=$2`
	args := []any{key.ItemID, key.LocationID}
	if asOf > 0 {
		query += ` AND sequence <= $3`
		args = append(args, asOf)
	}
	query += ` ORDER BY sequence ASC`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// EntriesForVoucher returns the original (non-reversal) entries a submission
// produced, in posting order.
func (r *txRepository) EntriesForVoucher(ctx context.Context, voucherID uuid.UUID) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, item_id, location_id, sequence, qty_delta, valuation_rate, balance_qty, balance_value, voucher_id, voucher_line, reversal_of, posted_at, created_at
FROM stock_ledger WHERE voucher_id=$1 AND reversal_of IS NULL ORDER BY id ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getBin(ctx context.Context, q pgQuerier, key BinKey) (Bin, error) {
	var bin Bin
	err := q.QueryRow(ctx, `SELECT item_id, location_id, qty, value, rate, updated_at FROM stock_bins WHERE item_id=$1 AND location_id=$2`,
		key.ItemID, key.LocationID).
		Scan(&bin.ItemID, &bin.LocationID, &bin.Qty, &bin.Value, &bin.Rate, &bin.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bin{ItemID: key.ItemID, LocationID: key.LocationID}, ErrBinNotFound
		}
		return Bin{}, err
	}
	return bin, nil
}

func scanLedgerEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.LocationID, &e.Sequence, &e.QtyDelta, &e.ValuationRate, &e.BalanceQty, &e.BalanceValue, &e.VoucherID, &e.VoucherLine, &e.ReversalOf, &e.PostedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// asConflict maps unique violations and repeatable-read serialization failures
// to the retryable conflict error.
func asConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" || pgErr.Code == "40001" {
			return ErrConflict
		}
	}
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
