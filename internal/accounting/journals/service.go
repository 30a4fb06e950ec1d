package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context) ([]JournalEntry, error) {
	return s.repo.List(ctx)
}

// PostJournal validates and persists a balanced journal in its own
// transaction. Posting the same source twice returns ErrSourceAlreadyLinked.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := PostJournalTx(ctx, tx, input)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, input.PostedBy, "journal.post", entry.ID, map[string]any{
		"number":        entry.Number,
		"source_module": input.SourceModule,
		"source_id":     input.SourceID.String(),
	})
	return entry, nil
}

// PostJournalTx performs the posting steps against an already-open
// transaction. Input must be validated by the caller.
func PostJournalTx(ctx context.Context, tx TxRepository, input PostingInput) (JournalEntry, error) {
	inserted, err := tx.InsertJournalEntry(ctx, input)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertJournalLines(ctx, inserted.ID, input.Lines); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.LinkSource(ctx, input.SourceModule, input.SourceID, inserted.ID); err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = toJournalLines(inserted.ID, input.Lines, inserted.CreatedAt)
	return inserted, nil
}

func (s *Service) VoidJournal(ctx context.Context, input VoidInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("accounting: entry id required")
	}
	var entry JournalEntry
	var lines []JournalLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, currLines, err := tx.GetJournalWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if current.Status != JournalStatusPosted {
			return ErrInvalidStatus
		}
		if err := tx.UpdateJournalStatus(ctx, current.ID, JournalStatusVoid); err != nil {
			return err
		}
		entry = current
		entry.Status = JournalStatusVoid
		lines = currLines
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	s.record(ctx, input.ActorID, "journal.void", entry.ID, map[string]any{"reason": input.Reason})
	return entry, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
}

func toJournalLines(entryID int64, lines []PostingLineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			JournalID: entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	return out
}
