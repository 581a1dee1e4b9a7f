package selector

import (
	"testing"
	"time"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
	"shortssync/internal/scoring"
	"shortssync/internal/threshold"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSelector(policy Policy) *Selector {
	return New(policy, scoring.New(7), threshold.NewCalculator(10000), logging.NewDiscardLogger())
}

func defaultPolicy() Policy {
	return Policy{
		MinDuration:    3,
		MaxDuration:    60,
		MinScore:       0.5,
		ExcludedTokens: []string{"#ad", "#sponsored"},
	}
}

func item(id string, views, likes int64, duration float64, age time.Duration, caption string) domain.CandidateItem {
	return domain.CandidateItem{
		ID:              id,
		SourceChannel:   "creator",
		CreatedAt:       base.Add(-age),
		DurationSeconds: duration,
		Views:           views,
		Likes:           likes,
		CaptionText:     caption,
	}
}

func ids(items []domain.ScoredItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectStrictRanksByScoreAndTruncates(t *testing.T) {
	s := newTestSelector(defaultPolicy())
	items := []domain.CandidateItem{
		item("a", 5000, 100, 30, time.Hour, "fun"),
		item("b", 8000, 2000, 30, 2*time.Hour, "great"),
		item("c", 6000, 600, 30, 3*time.Hour, "nice"),
		item("d", 7000, 50, 30, 4*time.Hour, "ok"),
	}

	sel := s.Select(items, "creator", 2)
	if sel.Stage != StageStrict {
		t.Fatalf("stage = %s, want strict", sel.Stage)
	}
	if sel.Fallback() {
		t.Fatal("strict selection must not report fallback")
	}
	if got, want := ids(sel.Items), []string{"b", "c"}; !equalIDs(got, want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
	for i, it := range sel.Items {
		if it.Rank != i+1 {
			t.Fatalf("item %s rank = %d, want %d", it.ID, it.Rank, i+1)
		}
	}
	if sel.Threshold.SizeClass != domain.SizeSmall {
		t.Fatalf("threshold class = %s, want small", sel.Threshold.SizeClass)
	}
}

func TestSelectTieBreakKeepsInputOrder(t *testing.T) {
	s := newTestSelector(defaultPolicy())
	items := []domain.CandidateItem{
		item("first", 5000, 100, 30, time.Hour, ""),
		item("top", 9000, 3000, 30, time.Hour, ""),
		item("second", 5000, 100, 30, time.Hour, ""),
		item("third", 5000, 100, 30, time.Hour, ""),
	}
	sel := s.Select(items, "creator", 10)
	if got, want := ids(sel.Items), []string{"top", "first", "second", "third"}; !equalIDs(got, want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
}

func TestSelectContentPolicyPredicates(t *testing.T) {
	policy := defaultPolicy()
	policy.RequiredTags = []string{"#Cooking"}
	s := newTestSelector(policy)
	items := []domain.CandidateItem{
		item("short", 5000, 500, 2, time.Hour, "#cooking"),
		item("long", 5000, 500, 61, time.Hour, "#cooking"),
		item("sponsored", 5000, 500, 30, time.Hour, "#cooking #AD"),
		item("untagged", 5000, 500, 30, time.Hour, "#baking"),
		item("ok", 5000, 500, 30, time.Hour, "weeknight #COOKING"),
	}
	sel := s.Select(items, "creator", 5)
	if got, want := ids(sel.Items), []string{"ok"}; !equalIDs(got, want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
	if sel.Dropped[DropDuration] != 2 || sel.Dropped[DropExcluded] != 1 || sel.Dropped[DropRequired] != 1 {
		t.Fatalf("unexpected drop counts: %v", sel.Dropped)
	}
}

func TestSelectScoreFloor(t *testing.T) {
	policy := defaultPolicy()
	policy.MinScore = 2.0
	s := newTestSelector(policy)
	items := []domain.CandidateItem{
		item("weak", 5000, 10, 30, time.Hour, ""),   // ~1.49
		item("strong", 5000, 500, 30, time.Hour, ""), // ~2.08
	}
	sel := s.Select(items, "creator", 5)
	if sel.Stage != StageStrict {
		t.Fatalf("stage = %s, want strict", sel.Stage)
	}
	if got, want := ids(sel.Items), []string{"strong"}; !equalIDs(got, want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
	if sel.Dropped[DropScore] != 1 {
		t.Fatalf("score drops = %d, want 1", sel.Dropped[DropScore])
	}
}

func TestSelectFallbackDurationRecencyWhenViewFloorRejectsAll(t *testing.T) {
	s := newTestSelector(defaultPolicy())
	// Small channel: floor clamps to 3000, so every item is below it.
	items := []domain.CandidateItem{
		item("old", 100, 10, 30, 3*time.Hour, ""),
		item("new", 200, 10, 30, time.Hour, ""),
		item("mid", 300, 10, 30, 2*time.Hour, ""),
	}
	sel := s.Select(items, "creator", 2)
	if sel.Stage != StageDurationRecency {
		t.Fatalf("stage = %s, want %s", sel.Stage, StageDurationRecency)
	}
	if !sel.Fallback() || sel.PolicyBypassed() {
		t.Fatalf("fallback=%v bypassed=%v, want true/false", sel.Fallback(), sel.PolicyBypassed())
	}
	if got, want := ids(sel.Items), []string{"new", "mid"}; !equalIDs(got, want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
	if sel.Dropped[DropViewFloor] != 3 {
		t.Fatalf("view floor drops = %d, want 3", sel.Dropped[DropViewFloor])
	}
	if len(sel.Attempts) != 2 || sel.Attempts[0].Survivors != 0 {
		t.Fatalf("unexpected attempts: %+v", sel.Attempts)
	}
}

func TestSelectFallbackRecencyIgnoresDuration(t *testing.T) {
	s := newTestSelector(defaultPolicy())
	items := []domain.CandidateItem{
		item("a", 50000, 10, 120, 2*time.Hour, ""),
		item("b", 50000, 10, 90, time.Hour, ""),
	}
	sel := s.Select(items, "creator", 5)
	if sel.Stage != StageRecency {
		t.Fatalf("stage = %s, want %s", sel.Stage, StageRecency)
	}
	if !sel.PolicyBypassed() {
		t.Fatal("recency fallback must be flagged as bypassing policy")
	}
	if got, want := ids(sel.Items), []string{"b", "a"}; !equalIDs(got, want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
}

func TestSelectNeverExceedsTopN(t *testing.T) {
	s := newTestSelector(defaultPolicy())
	var items []domain.CandidateItem
	for i := 0; i < 20; i++ {
		items = append(items, item(string(rune('a'+i)), 5000+int64(i)*10, 100, 30, time.Duration(i)*time.Minute, ""))
	}
	for _, n := range []int{1, 3, 20, 50} {
		sel := s.Select(items, "creator", n)
		want := n
		if want > len(items) {
			want = len(items)
		}
		if len(sel.Items) != want {
			t.Fatalf("topN=%d: got %d items, want %d", n, len(sel.Items), want)
		}
	}
}

func TestSelectEmptyInputs(t *testing.T) {
	s := newTestSelector(defaultPolicy())
	if sel := s.Select(nil, "creator", 3); sel.Stage != StageEmpty || len(sel.Items) != 0 {
		t.Fatalf("nil input: %+v", sel)
	}
	one := []domain.CandidateItem{item("a", 5000, 100, 30, time.Hour, "")}
	if sel := s.Select(one, "creator", 0); sel.Stage != StageEmpty || len(sel.Items) != 0 {
		t.Fatalf("topN=0: %+v", sel)
	}
}
