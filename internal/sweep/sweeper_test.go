package sweep

import (
	"context"
	"errors"
	"testing"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
)

type fakeLedger []domain.LedgerEntry

func (f fakeLedger) AllCommitted() []domain.LedgerEntry { return f }

type fakeChecker struct {
	gone   map[string]bool
	failOn map[string]bool
	calls  int
}

func (c *fakeChecker) Exists(_ context.Context, id string) (bool, error) {
	c.calls++
	if c.failOn[id] {
		return false, errors.New("timeout")
	}
	return !c.gone[id], nil
}

type fakeBudget struct {
	left      int
	committed int
	commitErr error
}

func (b *fakeBudget) CanAfford(_ string, count int) bool { return count <= b.left }

func (b *fakeBudget) Commit(_ string, count int) (int, error) {
	b.left -= count
	b.committed += count
	return b.left, b.commitErr
}

func entries() fakeLedger {
	return fakeLedger{
		{SourceChannel: "alice", SourceItemID: "a1", DestinationID: "yt1"},
		{SourceChannel: "alice", SourceItemID: "a2", DestinationID: "yt2"},
		{SourceChannel: "bob", SourceItemID: "b1", DestinationID: "yt3"},
	}
}

func TestRunReportsDeleted(t *testing.T) {
	check := &fakeChecker{gone: map[string]bool{"yt2": true}, failOn: map[string]bool{"yt3": true}}
	budget := &fakeBudget{left: 100}

	rep, err := New(entries(), check, budget, logging.NewDiscardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Checked != 2 || rep.Errors != 1 || len(rep.Deleted) != 1 || rep.Deleted[0].DestinationID != "yt2" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if budget.committed != 3 {
		t.Fatalf("committed = %d, want 3", budget.committed)
	}
}

func TestRunStopsWhenBudgetRunsOut(t *testing.T) {
	check := &fakeChecker{}
	budget := &fakeBudget{left: 1}

	rep, err := New(entries(), check, budget, logging.NewDiscardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Checked != 1 || rep.Skipped != 2 || check.calls != 1 {
		t.Fatalf("unexpected report: %+v calls=%d", rep, check.calls)
	}
}

func TestRunChargesFailedChecks(t *testing.T) {
	check := &fakeChecker{failOn: map[string]bool{"yt1": true, "yt2": true, "yt3": true}}
	budget := &fakeBudget{left: 2}

	rep, err := New(entries(), check, budget, logging.NewDiscardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Errors != 2 || rep.Checked != 0 || rep.Skipped != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if budget.committed != 2 || check.calls != 2 {
		t.Fatalf("committed = %d calls = %d, want 2 and 2", budget.committed, check.calls)
	}
}

func TestRunHaltsOnQuotaWriteFailure(t *testing.T) {
	budget := &fakeBudget{left: 100, commitErr: &domain.PersistenceError{Store: "quota", Op: "existenceCheck", Err: errors.New("disk full")}}

	rep, err := New(entries(), &fakeChecker{}, budget, logging.NewDiscardLogger()).Run(context.Background())
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if !rep.Halted || rep.Checked != 1 || rep.Skipped != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestFormatReport(t *testing.T) {
	rep := Report{
		Total:   3,
		Checked: 2,
		Errors:  1,
		Deleted: []domain.LedgerEntry{{SourceChannel: "alice", SourceItemID: "a2", DestinationID: "yt2"}},
	}
	want := "Deletion check: 3 published, 2 checked, 1 deleted, 1 errors\n- alice/a2 (yt2)"
	if got := FormatReport(rep); got != want {
		t.Fatalf("FormatReport() = %q, want %q", got, want)
	}
}
