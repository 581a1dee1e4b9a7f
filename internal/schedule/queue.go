package schedule

import (
	"sort"
	"sync"
	"time"

	"shortssync/internal/domain"
)

// Queue holds deferred slots in memory, ordered by time.
type Queue struct {
	mu    sync.Mutex
	slots []domain.ScheduleSlot
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Add(slots ...domain.ScheduleSlot) {
	if len(slots) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.slots = append(q.slots, slots...)
	sort.SliceStable(q.slots, func(i, j int) bool {
		return q.slots[i].At.Before(q.slots[j].At)
	})
}

// Due removes and returns the channel's slots at or before now.
func (q *Queue) Due(channel string, now time.Time) []domain.ScheduleSlot {
	channel = domain.NormalizeChannel(channel)
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []domain.ScheduleSlot
	kept := q.slots[:0]
	for _, s := range q.slots {
		if domain.NormalizeChannel(s.Item.SourceChannel) == channel && !s.At.After(now) {
			due = append(due, s)
			continue
		}
		kept = append(kept, s)
	}
	q.slots = kept
	return due
}

func (q *Queue) Contains(channel, itemID string) bool {
	channel = domain.NormalizeChannel(channel)
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.slots {
		if s.Item.ID == itemID && domain.NormalizeChannel(s.Item.SourceChannel) == channel {
			return true
		}
	}
	return false
}

// Pending returns a copy of every queued slot.
func (q *Queue) Pending() []domain.ScheduleSlot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.ScheduleSlot(nil), q.slots...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
