package schedule

import (
	"testing"
	"time"

	"shortssync/internal/domain"
)

func mustPlanner(t *testing.T, days, times []string) *Planner {
	t.Helper()
	p, err := NewPlanner(days, times, time.UTC)
	if err != nil {
		t.Fatalf("NewPlanner failed: %v", err)
	}
	return p
}

func TestReserveSkipsPastTimesAndOffDays(t *testing.T) {
	p := mustPlanner(t, []string{"Monday", "Wednesday", "Friday"}, []string{"18:00", "08:00", "12:00"})
	// Monday
	now := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)

	got, err := p.Reserve(now, 4)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d slots, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("slot %d = %v, want %v", i, got[i], want[i])
		}
	}

	next, err := p.Reserve(now, 1)
	if err != nil {
		t.Fatalf("second Reserve failed: %v", err)
	}
	if !next[0].Equal(time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("used slots must not be handed out twice, got %v", next[0])
	}
}

func TestReserveExactTimeIsNotFree(t *testing.T) {
	p := mustPlanner(t, nil, []string{"12:00"})
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	got, err := p.Reserve(now, 1)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !got[0].Equal(time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("got %v, want next day noon", got[0])
	}
}

func TestNewPlannerValidation(t *testing.T) {
	if _, err := NewPlanner([]string{"Funday"}, []string{"08:00"}, nil); err == nil {
		t.Fatalf("expected error for unknown day")
	}
	if _, err := NewPlanner(nil, []string{"25:00"}, nil); err == nil {
		t.Fatalf("expected error for out of range time")
	}
	if _, err := NewPlanner(nil, nil, nil); err == nil {
		t.Fatalf("expected error for no times")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"08:00", 8, 0, false},
		{" 18:30 ", 18, 30, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"noon", 0, 0, true},
	}
	for _, tt := range tests {
		h, m, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && (h != tt.h || m != tt.m) {
			t.Fatalf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.h, tt.m)
		}
	}
}

func TestQueueDue(t *testing.T) {
	q := NewQueue()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	item := func(ch, id string) domain.ScoredItem {
		return domain.ScoredItem{CandidateItem: domain.CandidateItem{ID: id, SourceChannel: ch}}
	}

	q.Add(
		domain.ScheduleSlot{At: base.Add(4 * time.Hour), Item: item("alice", "a2")},
		domain.ScheduleSlot{At: base, Item: item("alice", "a1")},
		domain.ScheduleSlot{At: base, Item: item("bob", "b1")},
		domain.ScheduleSlot{At: base.Add(48 * time.Hour), Item: item("alice", "a3")},
	)

	if !q.Contains("@alice", "a3") || q.Contains("alice", "b1") {
		t.Fatalf("Contains mismatch")
	}

	due := q.Due("alice", base.Add(5*time.Hour))
	if len(due) != 2 || due[0].Item.ID != "a1" || due[1].Item.ID != "a2" {
		t.Fatalf("unexpected due slots: %+v", due)
	}
	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", q.Len())
	}
	pending := q.Pending()
	if pending[0].Item.ID != "b1" || pending[1].Item.ID != "a3" {
		t.Fatalf("unexpected pending order: %+v", pending)
	}
}
