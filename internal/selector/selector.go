package selector

import (
	"sort"
	"strings"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
	"shortssync/internal/scoring"
	"shortssync/internal/threshold"
)

// Stage names the strategy that produced a selection.
type Stage string

const (
	StageStrict          Stage = "strict"
	StageDurationRecency Stage = "duration_recency"
	StageRecency         Stage = "recency"
	StageInputOrder      Stage = "input_order"
	StageEmpty           Stage = "empty"
)

// Drop reasons counted by the strict pipeline.
const (
	DropDuration  = "duration"
	DropViewFloor = "view_floor"
	DropScore     = "score"
	DropExcluded  = "excluded_token"
	DropRequired  = "missing_required_tag"
)

type Policy struct {
	MinDuration    float64
	MaxDuration    float64
	MinScore       float64
	ExcludedTokens []string // hashtags and keywords, matched case-insensitively
	RequiredTags   []string // when non-empty, at least one must appear
}

type Attempt struct {
	Stage     Stage
	Survivors int
}

type Selection struct {
	Channel   string
	Stage     Stage
	Items     []domain.ScoredItem
	Threshold domain.ChannelThreshold
	Attempts  []Attempt
	Dropped   map[string]int
}

// Fallback reports whether the strict pipeline produced nothing and a
// fallback strategy supplied the items.
func (s Selection) Fallback() bool {
	return s.Stage != StageStrict && s.Stage != StageEmpty
}

// PolicyBypassed reports whether the items may violate the duration window.
func (s Selection) PolicyBypassed() bool {
	return s.Stage == StageRecency || s.Stage == StageInputOrder
}

type Selector struct {
	policy Policy
	scorer *scoring.Scorer
	calc   threshold.Calculator
	logger logging.Logger
}

func New(policy Policy, scorer *scoring.Scorer, calc threshold.Calculator, logger logging.Logger) *Selector {
	return &Selector{policy: policy, scorer: scorer, calc: calc, logger: logger}
}

type strategy struct {
	stage Stage
	pick  func(items []domain.ScoredItem, sel *Selection) []domain.ScoredItem
}

// strategies are tried in order until one returns items.
func (s *Selector) strategies() []strategy {
	return []strategy{
		{stage: StageStrict, pick: s.strict},
		{stage: StageDurationRecency, pick: s.durationRecency},
		{stage: StageRecency, pick: newestFirst},
		{stage: StageInputOrder, pick: inputOrder},
	}
}

// Select filters and ranks a channel's candidates and returns at most topN
// of them. A non-empty input always yields a non-empty selection.
func (s *Selector) Select(items []domain.CandidateItem, channel string, topN int) Selection {
	sel := Selection{Channel: channel, Stage: StageEmpty, Dropped: map[string]int{}}
	if len(items) == 0 || topN <= 0 {
		return sel
	}

	scored := make([]domain.ScoredItem, len(items))
	for i, item := range items {
		score, kind := s.scorer.Score(item)
		scored[i] = domain.ScoredItem{CandidateItem: item, Score: score, ScoreKind: string(kind)}
	}

	for _, st := range s.strategies() {
		picked := st.pick(scored, &sel)
		sel.Attempts = append(sel.Attempts, Attempt{Stage: st.stage, Survivors: len(picked)})
		if len(picked) == 0 {
			continue
		}
		if len(picked) > topN {
			picked = picked[:topN]
		}
		for i := range picked {
			picked[i].Rank = i + 1
		}
		sel.Stage = st.stage
		sel.Items = picked
		break
	}

	entry := s.logger.WithFields(logging.Fields{
		"channel":  channel,
		"stage":    sel.Stage,
		"selected": len(sel.Items),
		"total":    len(items),
		"floor":    sel.Threshold.AdmissionFloor,
	})
	if sel.Fallback() {
		entry.WithField("dropped", sel.Dropped).Warn("content policy filtered every candidate, using fallback")
	} else {
		entry.Info("selected candidates")
	}
	return sel
}

func (s *Selector) strict(items []domain.ScoredItem, sel *Selection) []domain.ScoredItem {
	views := make([]int64, len(items))
	for i, it := range items {
		views[i] = it.Views
	}
	sel.Threshold = s.calc.ComputeFloor(sel.Channel, views)
	floor := sel.Threshold.AdmissionFloor

	var out []domain.ScoredItem
	for _, it := range items {
		switch {
		case !s.inDurationWindow(it):
			sel.Dropped[DropDuration]++
		case it.Views < floor:
			sel.Dropped[DropViewFloor]++
		case it.Score < s.policy.MinScore:
			sel.Dropped[DropScore]++
		case containsAny(it.CaptionText, s.policy.ExcludedTokens):
			sel.Dropped[DropExcluded]++
		case len(nonEmpty(s.policy.RequiredTags)) > 0 && !containsAny(it.CaptionText, s.policy.RequiredTags):
			sel.Dropped[DropRequired]++
		default:
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (s *Selector) durationRecency(items []domain.ScoredItem, _ *Selection) []domain.ScoredItem {
	var out []domain.ScoredItem
	for _, it := range items {
		if s.inDurationWindow(it) {
			out = append(out, it)
		}
	}
	return newestFirst(out, nil)
}

func newestFirst(items []domain.ScoredItem, _ *Selection) []domain.ScoredItem {
	out := append([]domain.ScoredItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func inputOrder(items []domain.ScoredItem, _ *Selection) []domain.ScoredItem {
	return append([]domain.ScoredItem(nil), items...)
}

func (s *Selector) inDurationWindow(it domain.ScoredItem) bool {
	return it.DurationSeconds >= s.policy.MinDuration && it.DurationSeconds <= s.policy.MaxDuration
}

func containsAny(caption string, tokens []string) bool {
	lower := strings.ToLower(caption)
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" && strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func nonEmpty(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
