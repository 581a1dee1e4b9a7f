package quota

import (
	"math"
	"sync"
	"time"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
)

// Operation kinds with a configured cost.
const (
	OpPublish        = "publish"
	OpExistenceCheck = "existenceCheck"
	OpMetricsFetch   = "metricsFetch"
	OpListItems      = "listItems"

	// OpExhausted is the adjustment recorded when the destination reports
	// the quota as spent before our own accounting does.
	OpExhausted = "exhausted"
)

const (
	DefaultLimit        = 10000
	DefaultReserveRatio = 0.05
	dateLayout          = "2006-01-02"
)

// DefaultCosts returns the per-call cost table used when none is configured.
func DefaultCosts() map[string]int {
	return map[string]int{
		OpPublish:        1600,
		OpExistenceCheck: 1,
		OpMetricsFetch:   3,
		OpListItems:      1,
	}
}

// Store persists one QuotaLedger per calendar day.
type Store interface {
	LoadQuotaDay(date string) (domain.QuotaLedger, bool, error)
	SaveQuotaDay(day domain.QuotaLedger) error
}

type Options struct {
	Limit        int
	ReserveRatio float64
	Costs        map[string]int
	Location     *time.Location
	Now          func() time.Time
}

// Manager tracks the daily budget. Check and commit are separate calls and
// are not atomic against a second process writing the same store.
type Manager struct {
	mu      sync.Mutex
	store   Store
	logger  logging.Logger
	limit   int
	reserve int
	costs   map[string]int
	loc     *time.Location
	now     func() time.Time

	day    domain.QuotaLedger
	loaded bool
}

func NewManager(store Store, opts Options, logger logging.Logger) *Manager {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ReserveRatio < 0 || opts.ReserveRatio >= 1 {
		opts.ReserveRatio = DefaultReserveRatio
	}
	costs := DefaultCosts()
	for k, v := range opts.Costs {
		costs[k] = v
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:   store,
		logger:  logger,
		limit:   opts.Limit,
		reserve: int(float64(opts.Limit) * opts.ReserveRatio),
		costs:   costs,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

// Cost returns the per-call cost of kind. Unknown kinds cost one unit.
func (m *Manager) Cost(kind string) int {
	if c, ok := m.costs[kind]; ok && c > 0 {
		return c
	}
	return 1
}

func (m *Manager) Limit() int   { return m.limit }
func (m *Manager) Reserve() int { return m.reserve }

// CanAfford reports whether count calls of kind fit in today's budget.
// Publishes are checked against the budget minus the reserve; when the full
// count does not fit but one call does, it still returns true and the caller
// sizes the batch with Affordable.
func (m *Manager) CanAfford(kind string, count int) bool {
	if count <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()

	per := m.Cost(kind)
	effective := m.effectiveLocked(kind)
	if per*count <= effective {
		return true
	}
	return kind == OpPublish && effective/per >= 1
}

// Affordable returns how many calls of kind fit in today's budget.
func (m *Manager) Affordable(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()

	effective := m.effectiveLocked(kind)
	if effective <= 0 {
		return 0
	}
	return int(math.Floor(float64(effective) / float64(m.Cost(kind))))
}

// Commit records count calls of kind and persists the day. It returns the
// units remaining afterwards. A failed write leaves the usage counted in
// memory and returns a *domain.PersistenceError.
func (m *Manager) Commit(kind string, count int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()

	if count <= 0 {
		return m.day.Remaining(), nil
	}
	m.addLocked(kind, count, m.Cost(kind)*count)
	return m.day.Remaining(), m.saveLocked(kind)
}

// MarkExhausted brings used up to the limit so the rest of the day's checks
// fail fast. The adjustment is booked as its own operation kind.
func (m *Manager) MarkExhausted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()

	gap := m.day.Limit - m.day.Used
	if gap <= 0 {
		return nil
	}
	m.addLocked(OpExhausted, 1, gap)
	m.logger.WithFields(logging.Fields{"date": m.day.Date, "adjustment": gap}).Warn("destination reported quota exhausted")
	return m.saveLocked(OpExhausted)
}

// DailySnapshot returns a copy of today's ledger.
func (m *Manager) DailySnapshot() domain.QuotaLedger {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	return m.day.Clone()
}

func (m *Manager) effectiveLocked(kind string) int {
	effective := m.day.Limit - m.day.Used
	if kind == OpPublish {
		effective -= m.reserve
	}
	return effective
}

func (m *Manager) addLocked(kind string, count, cost int) {
	usage := m.day.Operations[kind]
	usage.Count += count
	usage.Cost += cost
	m.day.Operations[kind] = usage
	m.day.Used += cost
	m.day.LastUpdated = m.now()
}

func (m *Manager) saveLocked(op string) error {
	if err := m.store.SaveQuotaDay(m.day.Clone()); err != nil {
		m.logger.WithError(err).WithField("date", m.day.Date).Error("failed to persist quota usage")
		return &domain.PersistenceError{Store: "quota", Op: op, Err: err}
	}
	return nil
}

// rollLocked loads the current day on first use and whenever the date key
// changes.
func (m *Manager) rollLocked() {
	date := m.now().In(m.loc).Format(dateLayout)
	if m.loaded && m.day.Date == date {
		return
	}

	day, found, err := m.store.LoadQuotaDay(date)
	if err != nil {
		m.logger.WithError(err).WithField("date", date).Warn("quota store unreadable, starting the day at zero")
		found = false
	}
	if !found {
		day = domain.QuotaLedger{Date: date}
	}
	day.Date = date
	day.Limit = m.limit
	if day.Operations == nil {
		day.Operations = map[string]domain.OperationUsage{}
	}
	if m.loaded {
		m.logger.WithFields(logging.Fields{"date": date, "used": day.Used}).Info("quota day rolled over")
	}
	m.day = day
	m.loaded = true
}
