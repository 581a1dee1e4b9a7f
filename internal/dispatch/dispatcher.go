package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
	"shortssync/internal/quota"
)

// Rejection reasons.
const (
	ReasonQuota         = "quota exceeded"
	ReasonCancelled     = "cancelled"
	ReasonTransient     = "transient"
	ReasonPublishFailed = "publish failed"
	ReasonNoSlot        = "no publish slot"
	ReasonPaused        = "paused"
)

// Halt reasons.
const (
	HaltQuota       = "quota exceeded"
	HaltPersistence = "persistence"
	HaltCancelled   = "cancelled"
)

const maxTitleRunes = 100

type Publisher interface {
	Publish(ctx context.Context, item domain.ScoredItem) (string, error)
}

type Budget interface {
	CanAfford(kind string, count int) bool
	Affordable(kind string) int
	Commit(kind string, count int) (int, error)
	MarkExhausted() error
}

type Ledger interface {
	Contains(channel, itemID string) bool
	Record(entry domain.LedgerEntry) error
}

type SlotPlanner interface {
	Reserve(now time.Time, n int) ([]time.Time, error)
}

type SlotQueue interface {
	Contains(channel, itemID string) bool
	Add(slots ...domain.ScheduleSlot)
}

type Dispatcher struct {
	publisher Publisher
	budget    Budget
	ledger    Ledger
	planner   SlotPlanner // nil disables deferred scheduling
	queue     SlotQueue
	logger    logging.Logger
	now       func() time.Time
}

type Option func(*Dispatcher)

// WithDeferral enables deferred scheduling: items the budget cannot cover
// get a future slot from planner and are parked in queue.
func WithDeferral(planner SlotPlanner, queue SlotQueue) Option {
	return func(d *Dispatcher) {
		d.planner = planner
		d.queue = queue
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(publisher Publisher, budget Budget, ledger Ledger, logger logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		budget:    budget,
		ledger:    ledger,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch publishes as many of items as today's budget allows, in order.
// The rest are deferred or rejected. The returned error is non-nil only for
// a store write failure, in which case the result is halted and the caller
// should stop publishing for this cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, channel string, items []domain.ScoredItem) (domain.DispatchResult, error) {
	return d.dispatch(ctx, channel, items, d.planner != nil)
}

// DispatchQueued publishes slots popped from the deferred queue. Items the
// budget still cannot cover are rejected rather than deferred again.
func (d *Dispatcher) DispatchQueued(ctx context.Context, channel string, slots []domain.ScheduleSlot) (domain.DispatchResult, error) {
	items := make([]domain.ScoredItem, len(slots))
	for i, s := range slots {
		items[i] = s.Item
	}
	return d.dispatch(ctx, channel, items, false)
}

func (d *Dispatcher) dispatch(ctx context.Context, channel string, items []domain.ScoredItem, allowDefer bool) (domain.DispatchResult, error) {
	var res domain.DispatchResult
	channel = domain.NormalizeChannel(channel)
	log := d.logger.WithField("channel", channel)

	fresh := make([]domain.ScoredItem, 0, len(items))
	for _, it := range items {
		if d.ledger.Contains(channel, it.ID) || (allowDefer && d.queue != nil && d.queue.Contains(channel, it.ID)) {
			res.Duplicates++
			continue
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return res, nil
	}

	k := 0
	if d.budget.CanAfford(quota.OpPublish, len(fresh)) {
		k = min(len(fresh), d.budget.Affordable(quota.OpPublish))
	}
	immediate, overflow := fresh[:k], fresh[k:]
	if len(overflow) > 0 {
		log.WithFields(logging.Fields{"affordable": k, "requested": len(fresh)}).Info("budget covers a partial batch")
	}

	var storeErr error
	for i, it := range immediate {
		if ctx.Err() != nil {
			res.Halted, res.HaltReason = true, HaltCancelled
			res.Rejected = append(res.Rejected, reject(immediate[i:], ReasonCancelled, ctx.Err())...)
			break
		}

		itemLog := log.WithField("item_id", it.ID)
		destID, err := d.publisher.Publish(ctx, it)
		if errors.Is(err, domain.ErrQuotaExceeded) {
			itemLog.WithError(err).Warn("destination quota exhausted, stopping dispatch")
			if markErr := d.budget.MarkExhausted(); markErr != nil {
				storeErr = markErr
			}
			res.Halted, res.HaltReason = true, HaltQuota
			overflow = append(append([]domain.ScoredItem(nil), immediate[i:]...), overflow...)
			break
		}
		if errors.Is(err, domain.ErrUnconfirmed) {
			itemLog.WithError(err).Warn("published, destination id unknown")
			destID, err = "", nil
		}
		if err != nil {
			reason := ReasonPublishFailed
			if errors.Is(err, domain.ErrTransient) {
				reason = ReasonTransient
			}
			itemLog.WithError(err).Warn("publish failed")
			res.Rejected = append(res.Rejected, domain.RejectedItem{Item: it, Reason: reason, Err: err})
			continue
		}

		recErr := d.ledger.Record(domain.LedgerEntry{
			SourceChannel: channel,
			SourceItemID:  it.ID,
			DestinationID: destID,
			Title:         titleFromCaption(it.CaptionText),
			CommittedAt:   d.now().UTC(),
			Metrics:       it.Metrics(),
		})
		_, commitErr := d.budget.Commit(quota.OpPublish, 1)

		switch {
		case errors.Is(recErr, domain.ErrDuplicateEntry):
			itemLog.Warn("item was recorded by another path during publish")
			res.Duplicates++
		case recErr != nil && !errors.Is(recErr, domain.ErrPersistence):
			itemLog.WithError(recErr).Error("published item could not be recorded")
			res.Committed = append(res.Committed, domain.CommittedItem{Item: it, DestinationID: destID})
		default:
			res.Committed = append(res.Committed, domain.CommittedItem{Item: it, DestinationID: destID})
			itemLog.WithField("destination_id", destID).Info("item published")
		}

		if err := errors.Join(persistenceOnly(recErr), commitErr); err != nil {
			itemLog.WithError(err).Error("store write failed, pausing publishing")
			storeErr = err
			res.Halted, res.HaltReason = true, HaltPersistence
			res.Rejected = append(res.Rejected, reject(immediate[i+1:], ReasonPaused, err)...)
			break
		}
	}

	if len(overflow) > 0 {
		if allowDefer && d.planner != nil && res.HaltReason != HaltPersistence && res.HaltReason != HaltCancelled {
			res.Deferred, res.Rejected = d.deferItems(log, overflow, res.Rejected)
		} else {
			res.Rejected = append(res.Rejected, reject(overflow, ReasonQuota, domain.ErrQuotaExceeded)...)
		}
	}
	return res, storeErr
}

func (d *Dispatcher) deferItems(log logging.Entry, items []domain.ScoredItem, rejected []domain.RejectedItem) ([]domain.ScheduleSlot, []domain.RejectedItem) {
	times, err := d.planner.Reserve(d.now(), len(items))
	if err != nil {
		log.WithError(err).Warn("no publish slots available")
		return nil, append(rejected, reject(items, ReasonNoSlot, err)...)
	}
	slots := make([]domain.ScheduleSlot, len(items))
	for i, it := range items {
		slots[i] = domain.ScheduleSlot{At: times[i], Item: it}
	}
	if d.queue != nil {
		d.queue.Add(slots...)
	}
	log.WithFields(logging.Fields{"deferred": len(slots), "first_slot": times[0].Format(time.RFC3339)}).Info("items deferred")
	return slots, rejected
}

func reject(items []domain.ScoredItem, reason string, err error) []domain.RejectedItem {
	out := make([]domain.RejectedItem, len(items))
	for i, it := range items {
		out[i] = domain.RejectedItem{Item: it, Reason: reason, Err: err}
	}
	return out
}

func persistenceOnly(err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return nil
}

func titleFromCaption(caption string) string {
	title := strings.TrimSpace(caption)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	r := []rune(title)
	return strings.TrimSpace(string(r[:maxTitleRunes]))
}
