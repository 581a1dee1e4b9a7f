package sweep

import (
	"context"
	"fmt"
	"strings"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
	"shortssync/internal/quota"
)

type Checker interface {
	Exists(ctx context.Context, destinationID string) (bool, error)
}

type Committed interface {
	AllCommitted() []domain.LedgerEntry
}

type Budget interface {
	CanAfford(kind string, count int) bool
	Commit(kind string, count int) (int, error)
}

type Report struct {
	Total   int
	Checked int
	Deleted []domain.LedgerEntry
	Errors  int
	Skipped int  // entries left unchecked when the budget ran out or the run was cancelled
	Halted  bool // a quota write failed
}

// Sweeper checks published items against the destination and reports the
// ones that are gone. It never modifies the ledger.
type Sweeper struct {
	ledger Committed
	check  Checker
	budget Budget
	logger logging.Logger
}

func New(ledger Committed, check Checker, budget Budget, logger logging.Logger) *Sweeper {
	return &Sweeper{ledger: ledger, check: check, budget: budget, logger: logger}
}

// Run checks every committed entry, one existenceCheck each, until the
// budget or ctx runs out.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	entries := s.ledger.AllCommitted()
	rep := Report{Total: len(entries)}

	for i, e := range entries {
		if ctx.Err() != nil {
			rep.Skipped = len(entries) - i
			break
		}
		if !s.budget.CanAfford(quota.OpExistenceCheck, 1) {
			rep.Skipped = len(entries) - i
			s.logger.WithField("skipped", rep.Skipped).Warn("deletion check stopped, quota exhausted")
			break
		}

		log := s.logger.WithFields(logging.Fields{"channel": e.SourceChannel, "destination_id": e.DestinationID})
		exists, err := s.check.Exists(ctx, e.DestinationID)
		switch {
		case err != nil:
			rep.Errors++
			log.WithError(err).Warn("existence check failed")
		case !exists:
			rep.Checked++
			rep.Deleted = append(rep.Deleted, e)
			log.Info("published item no longer exists at destination")
		default:
			rep.Checked++
		}
		// Failed calls still count against the destination's quota.
		if _, err := s.budget.Commit(quota.OpExistenceCheck, 1); err != nil {
			rep.Halted = true
			rep.Skipped = len(entries) - i - 1
			return rep, err
		}
	}
	return rep, nil
}

func FormatReport(rep Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deletion check: %d published, %d checked, %d deleted", rep.Total, rep.Checked, len(rep.Deleted))
	if rep.Errors > 0 {
		fmt.Fprintf(&b, ", %d errors", rep.Errors)
	}
	if rep.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", rep.Skipped)
	}
	for _, e := range rep.Deleted {
		fmt.Fprintf(&b, "\n- %s/%s (%s)", e.SourceChannel, e.SourceItemID, e.DestinationID)
	}
	return b.String()
}
