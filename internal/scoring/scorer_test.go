package scoring

import (
	"math"
	"testing"
	"time"

	"shortssync/internal/domain"
)

func TestScoreNormalRegime(t *testing.T) {
	s := New(1)
	item := domain.CandidateItem{Views: 9999, Likes: 500, Comments: 300, Shares: 200}
	got, kind := s.Score(item)
	if kind != KindEngagement {
		t.Fatalf("kind = %s, want %s", kind, KindEngagement)
	}
	// log10(10000)=4 -> 1.6, rate=1000/9999 -> 0.6*rate*10
	want := 0.4*4 + 0.6*(1000.0/9999.0)*10
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestScoreZeroViewsWithEngagementUsesOneViewDenominator(t *testing.T) {
	s := New(1)
	got, kind := s.Score(domain.CandidateItem{Likes: 2})
	if kind != KindEngagement {
		t.Fatalf("kind = %s, want engagement", kind)
	}
	want := 0.6 * 2 * 10
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestScoreDegenerateUsesCreatedAt(t *testing.T) {
	s := New(1)
	older := domain.CandidateItem{CreatedAt: time.Unix(1_600_000_000, 0)}
	newer := domain.CandidateItem{CreatedAt: time.Unix(1_700_000_000, 0)}

	a, kindA := s.Score(older)
	b, kindB := s.Score(newer)
	if kindA != KindRecency || kindB != KindRecency {
		t.Fatalf("kinds = %s/%s, want recency", kindA, kindB)
	}
	if !(b > a) {
		t.Fatalf("newer item should rank higher: older=%v newer=%v", a, b)
	}
	for _, v := range []float64{a, b} {
		if v < 0 || v > 5 {
			t.Fatalf("recency score %v outside [0,5]", v)
		}
	}

	far, _ := s.Score(domain.CandidateItem{CreatedAt: time.Unix(9_000_000_000, 0)})
	if far != 5 {
		t.Fatalf("far-future score = %v, want clamp to 5", far)
	}
	past, _ := s.Score(domain.CandidateItem{CreatedAt: time.Unix(-100, 0)})
	if past != 0 {
		t.Fatalf("pre-epoch score = %v, want clamp to 0", past)
	}
}

func TestScoreDegenerateWithoutCreatedAtIsSeededRandom(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 50; i++ {
		x, kind := a.Score(domain.CandidateItem{})
		y, _ := b.Score(domain.CandidateItem{})
		if kind != KindRandom {
			t.Fatalf("kind = %s, want random", kind)
		}
		if x < 0.1 || x > 1.0 {
			t.Fatalf("random score %v outside [0.1,1.0]", x)
		}
		if x != y {
			t.Fatalf("same seed produced different sequences: %v vs %v", x, y)
		}
	}
}

func TestScoreNegativeCountersReturnDefault(t *testing.T) {
	got, kind := New(1).Score(domain.CandidateItem{Views: -5, Likes: 3})
	if got != DefaultScore || kind != KindDefault {
		t.Fatalf("got %v/%s, want %v/%s", got, kind, DefaultScore, KindDefault)
	}
}

func TestScoreMonotonicInViewsAtFixedRate(t *testing.T) {
	s := New(1)
	prev := -1.0
	for _, views := range []int64{10, 100, 1000, 10000, 100000} {
		// 10% engagement at every size
		got, _ := s.Score(domain.CandidateItem{Views: views, Likes: views / 10})
		if got < prev {
			t.Fatalf("score decreased at views=%d: %v < %v", views, got, prev)
		}
		prev = got
	}
}

func TestScoreMonotonicInInteractionsAtFixedViews(t *testing.T) {
	s := New(1)
	prev := -1.0
	for _, n := range []int64{0, 1, 10, 100, 1000} {
		got, _ := s.Score(domain.CandidateItem{Views: 5000, Likes: n / 2, Comments: n / 4, Shares: n - n/2 - n/4})
		if got < prev {
			t.Fatalf("score decreased at interactions=%d: %v < %v", n, got, prev)
		}
		prev = got
	}
}
