package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/meridian-pos/meridian/internal/jobs"
	"github.com/meridian-pos/meridian/internal/stock"
)

const (
	// TaskBinRebuild replays the ledger for one bin and repairs the projection.
	TaskBinRebuild = "stock:bin_rebuild"
	// TaskLedgerIntegrity sweeps every bin and verifies the fold chain.
	TaskLedgerIntegrity = "stock:ledger_integrity"
)

// StockAuditor is the slice of the stock service the integrity jobs need.
type StockAuditor interface {
	ListBinKeys(ctx context.Context) ([]stock.BinKey, error)
	RebuildBin(ctx context.Context, key stock.BinKey) (stock.Bin, error)
}

// BinRebuildPayload identifies the bin to rebuild.
type BinRebuildPayload struct {
	ItemID     int64 `json:"item_id"`
	LocationID int64 `json:"location_id"`
}

// LedgerIntegrityPayload carries scheduling metadata for the nightly sweep.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBinRebuildTask constructs an Asynq task for a single bin rebuild.
func NewBinRebuildTask(itemID, locationID int64) (*asynq.Task, error) {
	body, err := json.Marshal(BinRebuildPayload{ItemID: itemID, LocationID: locationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBinRebuild, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerIntegrityTask constructs the nightly sweep task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// HandleBinRebuildTask returns the handler for TaskBinRebuild.
func HandleBinRebuildTask(auditor StockAuditor, logger *slog.Logger) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskBinRebuild)
		var payload BinRebuildPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		if payload.ItemID == 0 || payload.LocationID == 0 {
			return tracker.End(asynq.SkipRetry)
		}
		key := stock.BinKey{ItemID: payload.ItemID, LocationID: payload.LocationID}
		_, err := auditor.RebuildBin(ctx, key)
		if errors.Is(err, stock.ErrIntegrity) {
			logger.Error("bin projection repaired after divergence",
				slog.Int64("item_id", key.ItemID), slog.Int64("location_id", key.LocationID))
			return tracker.End(nil)
		}
		return tracker.End(err)
	}
}

// HandleLedgerIntegrityTask returns the handler for TaskLedgerIntegrity. It
// walks every bin; divergent bins are repaired and logged, other errors abort
// the sweep so the task retries.
func HandleLedgerIntegrityTask(auditor StockAuditor, logger *slog.Logger) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskLedgerIntegrity)
		var payload LedgerIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		keys, err := auditor.ListBinKeys(ctx)
		if err != nil {
			return tracker.End(err)
		}
		var repaired atomic.Int64
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(4)
		for _, key := range keys {
			group.Go(func() error {
				if _, err := auditor.RebuildBin(groupCtx, key); err != nil {
					if errors.Is(err, stock.ErrIntegrity) {
						repaired.Add(1)
						logger.Error("bin projection repaired after divergence",
							slog.Int64("item_id", key.ItemID), slog.Int64("location_id", key.LocationID))
						return nil
					}
					return err
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return tracker.End(err)
		}
		logger.Info("ledger integrity sweep finished",
			slog.Int("bins", len(keys)), slog.Int64("repaired", repaired.Load()))
		return tracker.End(nil)
	}
}
