package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shortssync/internal/dispatch"
	"shortssync/internal/domain"
	"shortssync/internal/logging"
	"shortssync/internal/metrics"
	"shortssync/internal/selector"
)

const (
	DefaultItemsPerChannel = 3
	DefaultFetchLimit      = 20
)

// Cycle results reported to metrics.
const (
	ResultOK     = "ok"
	ResultHalted = "halted"
)

type ChannelSummary struct {
	Channel    string
	Fetched    int
	New        int
	Admitted   int
	Flagged    int
	Stage      selector.Stage
	Floor      int64
	QueuedDue  int
	Waiting    int // candidates already holding a deferred slot
	Committed  int
	Deferred   int
	Rejected   int
	Duplicates int
	Err        error // fetch failure; the channel was skipped
	Paused     bool  // not processed because the cycle halted earlier
}

type Summary struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Channels   []ChannelSummary
	Halted     bool
	HaltReason string
	QuotaUsed  int
	QuotaLimit int
}

type Totals struct {
	Fetched, Admitted, Committed, Deferred, Rejected int
}

func (s Summary) Totals() Totals {
	var t Totals
	for _, c := range s.Channels {
		t.Fetched += c.Fetched
		t.Admitted += c.Admitted
		t.Committed += c.Committed
		t.Deferred += c.Deferred
		t.Rejected += c.Rejected
	}
	return t
}

// Runner executes one processing cycle at a time over the configured
// channels.
type Runner struct {
	channels        []Channel
	itemsPerChannel int
	fetchLimit      int
	deps            Deps
	logger          logging.Logger

	mu   sync.Mutex
	last *Summary
}

func NewRunner(channels []Channel, itemsPerChannel, fetchLimit int, deps Deps, logger logging.Logger) *Runner {
	if itemsPerChannel <= 0 {
		itemsPerChannel = DefaultItemsPerChannel
	}
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{
		channels:        channels,
		itemsPerChannel: itemsPerChannel,
		fetchLimit:      fetchLimit,
		deps:            deps,
		logger:          logger,
	}
}

// LastSummary returns the most recent completed cycle, if any.
func (r *Runner) LastSummary() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// RunCycle processes every active channel in order. Per-channel failures
// are recorded in the summary. The error is non-nil only when a store write
// failed, after which the remaining channels are paused.
func (r *Runner) RunCycle(ctx context.Context) (Summary, error) {
	sum := Summary{CycleID: uuid.NewString(), StartedAt: r.deps.Now()}
	log := r.logger.WithField("cycle_id", sum.CycleID)
	log.WithField("channels", len(r.channels)).Info("cycle started")

	var storeErr error
	for _, ch := range r.channels {
		if !ch.Active {
			continue
		}
		name := domain.NormalizeChannel(ch.Name)
		if !sum.Halted && ctx.Err() != nil {
			sum.Halted, sum.HaltReason = true, dispatch.HaltCancelled
		}
		if sum.Halted {
			sum.Channels = append(sum.Channels, ChannelSummary{Channel: name, Paused: true})
			continue
		}

		cs, res, err := r.runChannel(ctx, log.WithField("channel", name), name, ch.Limit)
		sum.Channels = append(sum.Channels, cs)
		if err != nil {
			storeErr = errors.Join(storeErr, err)
		}
		if res.Halted {
			sum.Halted, sum.HaltReason = true, res.HaltReason
		}
	}

	if r.deps.Budget != nil {
		snap := r.deps.Budget.DailySnapshot()
		sum.QuotaUsed, sum.QuotaLimit = snap.Used, snap.Limit
		if r.deps.Metrics != nil {
			r.deps.Metrics.Quota(snap.Used, snap.Remaining())
		}
	}
	sum.FinishedAt = r.deps.Now()

	result := ResultOK
	if sum.Halted {
		result = ResultHalted
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.CycleFinished(result)
	}

	t := sum.Totals()
	log.WithFields(logging.Fields{
		"fetched":   t.Fetched,
		"admitted":  t.Admitted,
		"committed": t.Committed,
		"deferred":  t.Deferred,
		"rejected":  t.Rejected,
		"halted":    sum.HaltReason,
		"duration":  sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond).String(),
	}).Info("cycle finished")

	r.mu.Lock()
	r.last = &sum
	r.mu.Unlock()

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Post(ctx, FormatSummary(sum)); err != nil {
			log.WithError(err).Warn("cycle summary post failed")
		}
	}
	return sum, storeErr
}

func (r *Runner) runChannel(ctx context.Context, log logging.Entry, channel string, limit int) (ChannelSummary, domain.DispatchResult, error) {
	cs := ChannelSummary{Channel: channel}
	if limit <= 0 {
		limit = r.itemsPerChannel
	}

	if r.deps.Queue != nil {
		if due := r.deps.Queue.Due(channel, r.deps.Now()); len(due) > 0 {
			cs.QueuedDue = len(due)
			res, err := r.deps.Dispatcher.DispatchQueued(ctx, channel, due)
			r.count(&cs, res)
			if err != nil || res.Halted {
				return cs, res, err
			}
		}
	}

	items, err := r.deps.Fetcher.GetCandidates(ctx, channel, r.fetchLimit)
	if err != nil {
		log.WithError(err).Warn("fetch failed, skipping channel")
		cs.Err = err
		return cs, domain.DispatchResult{}, nil
	}
	cs.Fetched = len(items)
	r.metric(channel, metrics.OutcomeFetched, len(items))

	fresh := r.deps.Ledger.FilterNew(channel, items)
	if r.deps.Queue != nil {
		fresh = r.withoutQueued(channel, fresh, &cs)
	}
	cs.New = len(fresh)

	sel := r.deps.Selector.Select(fresh, channel, limit)
	cs.Stage, cs.Floor = sel.Stage, sel.Threshold.AdmissionFloor
	if r.deps.Metrics != nil {
		r.deps.Metrics.Selection(string(sel.Stage))
	}

	admitted := sel.Items
	if r.deps.Reviewer != nil && len(admitted) > 0 {
		kept, flags, err := r.deps.Reviewer.Screen(ctx, channel, admitted)
		if err != nil {
			log.WithError(err).Warn("caption review failed, keeping all selected items")
		} else {
			for _, f := range flags {
				log.WithFields(logging.Fields{"item_id": f.ItemID, "reason": f.Reason}).Info("caption review rejected item")
			}
			cs.Flagged = len(flags)
			admitted = kept
		}
	}
	cs.Admitted = len(admitted)
	r.metric(channel, metrics.OutcomeAdmitted, len(admitted))

	res, err := r.deps.Dispatcher.Dispatch(ctx, channel, admitted)
	r.count(&cs, res)
	return cs, res, err
}

// withoutQueued drops candidates that already wait in the deferred queue so
// selection can reach the next-best items.
func (r *Runner) withoutQueued(channel string, items []domain.CandidateItem, cs *ChannelSummary) []domain.CandidateItem {
	out := make([]domain.CandidateItem, 0, len(items))
	for _, it := range items {
		if r.deps.Queue.Contains(channel, it.ID) {
			cs.Waiting++
			continue
		}
		out = append(out, it)
	}
	return out
}

func (r *Runner) count(cs *ChannelSummary, res domain.DispatchResult) {
	cs.Committed += len(res.Committed)
	cs.Deferred += len(res.Deferred)
	cs.Rejected += len(res.Rejected)
	cs.Duplicates += res.Duplicates
	r.metric(cs.Channel, metrics.OutcomeCommitted, len(res.Committed))
	r.metric(cs.Channel, metrics.OutcomeDeferred, len(res.Deferred))
	r.metric(cs.Channel, metrics.OutcomeRejected, len(res.Rejected))
	r.metric(cs.Channel, metrics.OutcomeDuplicate, res.Duplicates)
}

func (r *Runner) metric(channel, outcome string, n int) {
	if r.deps.Metrics != nil && n > 0 {
		r.deps.Metrics.Items(channel, outcome, n)
	}
}

// FormatSummary renders a cycle summary for chat and the CLI.
func FormatSummary(s Summary) string {
	t := s.Totals()
	id := s.CycleID
	if len(id) > 8 {
		id = id[:8]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s: %d fetched, %d admitted, %d committed, %d deferred, %d rejected",
		id, t.Fetched, t.Admitted, t.Committed, t.Deferred, t.Rejected)

	for _, c := range s.Channels {
		switch {
		case c.Paused:
			fmt.Fprintf(&b, "\n- %s: paused", c.Channel)
		case c.Err != nil:
			fmt.Fprintf(&b, "\n- %s: skipped (%v)", c.Channel, c.Err)
		default:
			parts := []string{fmt.Sprintf("%d fetched", c.Fetched), fmt.Sprintf("%d new", c.New)}
			admitted := fmt.Sprintf("%d admitted", c.Admitted)
			if c.Stage != "" && c.Stage != selector.StageEmpty {
				admitted += fmt.Sprintf(" (%s)", c.Stage)
			}
			parts = append(parts, admitted)
			if c.Flagged > 0 {
				parts = append(parts, fmt.Sprintf("%d flagged", c.Flagged))
			}
			if c.QueuedDue > 0 {
				parts = append(parts, fmt.Sprintf("%d from queue", c.QueuedDue))
			}
			if c.Waiting > 0 {
				parts = append(parts, fmt.Sprintf("%d waiting", c.Waiting))
			}
			parts = append(parts,
				fmt.Sprintf("%d committed", c.Committed),
				fmt.Sprintf("%d deferred", c.Deferred),
				fmt.Sprintf("%d rejected", c.Rejected),
			)
			if c.Duplicates > 0 {
				parts = append(parts, fmt.Sprintf("%d duplicates", c.Duplicates))
			}
			fmt.Fprintf(&b, "\n- %s: %s", c.Channel, strings.Join(parts, ", "))
		}
	}

	if s.Halted {
		fmt.Fprintf(&b, "\nHalted: %s", s.HaltReason)
	}
	if s.QuotaLimit > 0 {
		fmt.Fprintf(&b, "\nQuota: %d/%d units used", s.QuotaUsed, s.QuotaLimit)
	}
	return b.String()
}
