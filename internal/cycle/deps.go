package cycle

import (
	"context"
	"time"

	"shortssync/internal/domain"
	"shortssync/internal/integrations/llm"
	"shortssync/internal/selector"
)

type Fetcher interface {
	GetCandidates(ctx context.Context, channel string, limit int) ([]domain.CandidateItem, error)
}

type Ledger interface {
	FilterNew(channel string, items []domain.CandidateItem) []domain.CandidateItem
}

type Selector interface {
	Select(items []domain.CandidateItem, channel string, topN int) selector.Selection
}

type Dispatcher interface {
	Dispatch(ctx context.Context, channel string, items []domain.ScoredItem) (domain.DispatchResult, error)
	DispatchQueued(ctx context.Context, channel string, slots []domain.ScheduleSlot) (domain.DispatchResult, error)
}

type DueQueue interface {
	Due(channel string, now time.Time) []domain.ScheduleSlot
	Contains(channel, itemID string) bool
}

type Reviewer interface {
	Screen(ctx context.Context, channel string, items []domain.ScoredItem) ([]domain.ScoredItem, []llm.Flag, error)
}

type Notifier interface {
	Post(ctx context.Context, text string) error
}

type Budget interface {
	DailySnapshot() domain.QuotaLedger
}

type Channel struct {
	Name   string
	Limit  int // items per cycle; zero uses the runner default
	Active bool
}

// Deps wires a Runner. Queue, Reviewer, Notifier and Metrics are optional.
type Deps struct {
	Fetcher    Fetcher
	Ledger     Ledger
	Selector   Selector
	Dispatcher Dispatcher
	Budget     Budget
	Queue      DueQueue
	Reviewer   Reviewer
	Notifier   Notifier
	Metrics    Metrics
	Now        func() time.Time
}

// Metrics is the subset of the metrics collector a cycle reports to.
type Metrics interface {
	CycleFinished(result string)
	Items(channel, outcome string, n int)
	Selection(stage string)
	Quota(used, remaining int)
}
