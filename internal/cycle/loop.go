package cycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"shortssync/internal/logging"
)

// Job is a scheduled unit of work. Schedule is a standard 5-field cron
// expression (minute hour day-of-month month day-of-week); empty disables
// the job.
type Job struct {
	Name       string
	Schedule   string
	RunAtStart bool
	Run        func(ctx context.Context)
}

type scheduledJob struct {
	Job
	sched cron.Schedule
	next  time.Time
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

// RunLoop runs jobs on their schedules until ctx is done. Jobs never
// overlap: when several are due they run one after another in the order
// given.
func RunLoop(ctx context.Context, loc *time.Location, logger logging.Logger, jobs ...Job) error {
	if loc == nil {
		loc = time.UTC
	}

	var active []*scheduledJob
	for _, j := range jobs {
		expr := strings.TrimSpace(j.Schedule)
		if expr == "" {
			logger.WithField("job", j.Name).Info("job disabled (no schedule)")
			continue
		}
		sched, err := ParseSchedule(expr)
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", expr, j.Name, err)
		}
		active = append(active, &scheduledJob{Job: j, sched: sched})
		logger.WithFields(logging.Fields{"job": j.Name, "cron": expr}).Info("job scheduled")
	}
	if len(active) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	for _, j := range active {
		if j.RunAtStart {
			if ctx.Err() != nil {
				return nil
			}
			runJob(ctx, logger, j)
		}
	}

	now := time.Now().In(loc)
	for _, j := range active {
		j.next = j.sched.Next(now)
	}

	for {
		next := active[0].next
		for _, j := range active[1:] {
			if j.next.Before(next) {
				next = j.next
			}
		}
		wait := time.Until(next)
		logger.WithFields(logging.Fields{
			"next": next.Format("Mon Jan 2 15:04"),
			"in":   wait.Round(time.Second).String(),
		}).Debug("waiting for next job")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		now := time.Now().In(loc)
		for _, j := range active {
			if j.next.After(now) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			runJob(ctx, logger, j)
			j.next = j.sched.Next(time.Now().In(loc))
		}
	}
}

func runJob(ctx context.Context, logger logging.Logger, j *scheduledJob) {
	start := time.Now()
	log := logger.WithField("job", j.Name)
	log.Info("job started")
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("job panicked")
			return
		}
		log.WithField("duration", time.Since(start).Round(time.Millisecond).String()).Info("job finished")
	}()
	j.Run(ctx)
}
