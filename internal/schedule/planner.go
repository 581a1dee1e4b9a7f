package schedule

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var dayMap = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// horizonDays bounds the slot search so a policy with no usable slot fails
// instead of looping.
const horizonDays = 366

type clock struct {
	hour, min int
}

// Planner hands out publish slots: the configured times of day on the
// configured weekdays, each slot at most once.
type Planner struct {
	mu    sync.Mutex
	days  map[time.Weekday]bool
	times []clock
	loc   *time.Location
	used  map[int64]bool
}

// NewPlanner builds a planner. No days means every day.
func NewPlanner(days, times []string, loc *time.Location) (*Planner, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := &Planner{days: map[time.Weekday]bool{}, loc: loc, used: map[int64]bool{}}

	for _, d := range days {
		wd, ok := dayMap[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("invalid publish day %q", d)
		}
		p.days[wd] = true
	}
	if len(p.days) == 0 {
		for _, wd := range dayMap {
			p.days[wd] = true
		}
	}

	seen := map[clock]bool{}
	for _, s := range times {
		hour, min, err := ParseClock(s)
		if err != nil {
			return nil, fmt.Errorf("invalid publish time %q: %w", s, err)
		}
		c := clock{hour, min}
		if !seen[c] {
			seen[c] = true
			p.times = append(p.times, c)
		}
	}
	if len(p.times) == 0 {
		return nil, fmt.Errorf("at least one publish time is required")
	}
	sort.Slice(p.times, func(i, j int) bool {
		if p.times[i].hour != p.times[j].hour {
			return p.times[i].hour < p.times[j].hour
		}
		return p.times[i].min < p.times[j].min
	})
	return p, nil
}

// Reserve returns the next n free slots strictly after now, in ascending
// order, and marks them used.
func (p *Planner) Reserve(now time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now = now.In(p.loc)
	p.pruneLocked(now)

	out := make([]time.Time, 0, n)
	for offset := 0; offset <= horizonDays && len(out) < n; offset++ {
		day := time.Date(now.Year(), now.Month(), now.Day()+offset, 0, 0, 0, 0, p.loc)
		if !p.days[day.Weekday()] {
			continue
		}
		for _, c := range p.times {
			at := time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.min, 0, 0, p.loc)
			if !at.After(now) || p.used[at.Unix()] {
				continue
			}
			p.used[at.Unix()] = true
			out = append(out, at)
			if len(out) == n {
				break
			}
		}
	}
	if len(out) < n {
		for _, at := range out {
			delete(p.used, at.Unix())
		}
		return nil, fmt.Errorf("only %d of %d publish slots available within %d days", len(out), n, horizonDays)
	}
	return out, nil
}

func (p *Planner) pruneLocked(now time.Time) {
	cutoff := now.Unix()
	for k := range p.used {
		if k <= cutoff {
			delete(p.used, k)
		}
	}
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (int, int, error) {
	var hour, min int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &hour, &min)
	if err != nil {
		return 0, 0, err
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("time out of range: %02d:%02d", hour, min)
	}
	return hour, min, nil
}
