package scoring

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"shortssync/internal/domain"
)

type Kind string

const (
	KindEngagement Kind = "engagement"
	KindRecency    Kind = "recency"
	KindRandom     Kind = "random"
	KindDefault    Kind = "default"
)

const (
	// DefaultScore is returned when an item's counters cannot be scored.
	DefaultScore = 0.5

	viewWeight       = 0.4
	engagementWeight = 0.6
	engagementScale  = 10

	recencyDivisor = 1e9 // unix seconds -> roughly 1.0-2.0 for current timestamps
	recencyMax     = 5.0

	randomMin = 0.1
	randomMax = 1.0
)

// Scorer turns engagement counters into a comparable rank value. Items with
// no engagement at all are ranked by creation time, and when that is also
// missing a seeded random value in [0.1, 1.0] breaks the tie.
type Scorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a scorer whose random tie-breaker is seeded with seed. A zero
// seed uses the current time.
func New(seed int64) *Scorer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scorer{rng: rand.New(rand.NewSource(seed))}
}

func (s *Scorer) Score(item domain.CandidateItem) (float64, Kind) {
	if item.Views < 0 || item.Likes < 0 || item.Comments < 0 || item.Shares < 0 {
		return DefaultScore, KindDefault
	}

	if item.Views == 0 && item.Likes == 0 && item.Comments == 0 && item.Shares == 0 {
		if item.CreatedAt.IsZero() {
			return s.random(), KindRandom
		}
		score := float64(item.CreatedAt.Unix()) / recencyDivisor
		return math.Min(recencyMax, math.Max(0, score)), KindRecency
	}

	interactions := float64(item.Likes + item.Comments + item.Shares)
	engagementRate := interactions / math.Max(float64(item.Views), 1)
	logViews := math.Log10(float64(item.Views) + 1)
	score := viewWeight*logViews + engagementWeight*engagementRate*engagementScale
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return DefaultScore, KindDefault
	}
	return score, KindEngagement
}

func (s *Scorer) random() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return randomMin + s.rng.Float64()*(randomMax-randomMin)
}
