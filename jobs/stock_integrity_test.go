package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/stock"
)

type fakeAuditor struct {
	mu        sync.Mutex
	keys      []stock.BinKey
	rebuilt   []stock.BinKey
	divergent map[stock.BinKey]bool
	err       error
}

func (a *fakeAuditor) ListBinKeys(_ context.Context) ([]stock.BinKey, error) {
	return a.keys, a.err
}

func (a *fakeAuditor) RebuildBin(_ context.Context, key stock.BinKey) (stock.Bin, error) {
	a.mu.Lock()
	a.rebuilt = append(a.rebuilt, key)
	a.mu.Unlock()
	if a.err != nil {
		return stock.Bin{}, a.err
	}
	if a.divergent[key] {
		return stock.Bin{ItemID: key.ItemID, LocationID: key.LocationID}, stock.ErrIntegrity
	}
	return stock.Bin{ItemID: key.ItemID, LocationID: key.LocationID}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleBinRebuildTask(t *testing.T) {
	auditor := &fakeAuditor{}
	handler := HandleBinRebuildTask(auditor, discardLogger())

	task, err := NewBinRebuildTask(1, 10)
	require.NoError(t, err)
	require.Equal(t, TaskBinRebuild, task.Type())

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, []stock.BinKey{{ItemID: 1, LocationID: 10}}, auditor.rebuilt)
}

func TestHandleBinRebuildTaskDivergenceIsNotRetried(t *testing.T) {
	auditor := &fakeAuditor{divergent: map[stock.BinKey]bool{{ItemID: 1, LocationID: 10}: true}}
	handler := HandleBinRebuildTask(auditor, discardLogger())

	task, err := NewBinRebuildTask(1, 10)
	require.NoError(t, err)

	// The rebuild already repaired the projection; retrying would churn.
	require.NoError(t, handler(context.Background(), task))
}

func TestHandleBinRebuildTaskBadPayload(t *testing.T) {
	auditor := &fakeAuditor{}
	handler := HandleBinRebuildTask(auditor, discardLogger())

	err := handler(context.Background(), asynq.NewTask(TaskBinRebuild, []byte("not-json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = handler(context.Background(), asynq.NewTask(TaskBinRebuild, []byte(`{"item_id":0,"location_id":0}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, auditor.rebuilt)
}

func TestHandleLedgerIntegrityTaskSweepsEveryBin(t *testing.T) {
	auditor := &fakeAuditor{
		keys: []stock.BinKey{
			{ItemID: 1, LocationID: 10},
			{ItemID: 1, LocationID: 11},
			{ItemID: 2, LocationID: 10},
		},
		divergent: map[stock.BinKey]bool{{ItemID: 1, LocationID: 11}: true},
	}
	handler := HandleLedgerIntegrityTask(auditor, discardLogger())

	task, err := NewLedgerIntegrityTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Len(t, auditor.rebuilt, 3)
}

func TestHandleLedgerIntegrityTaskAbortsOnHardError(t *testing.T) {
	boom := errors.New("connection lost")
	auditor := &fakeAuditor{
		keys: []stock.BinKey{{ItemID: 1, LocationID: 10}},
		err:  boom,
	}
	handler := HandleLedgerIntegrityTask(auditor, discardLogger())

	task, err := NewLedgerIntegrityTask(time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, handler(context.Background(), task), boom)
}
