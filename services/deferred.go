package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const deferredTag = "deferred"

// DeferredScheduler runs named one-shot actions. Registering a name that is
// still pending fails with ErrJobAlreadyScheduled.
type DeferredScheduler interface {
	ScheduleOnce(name string, delay time.Duration, task func(ctx context.Context)) error
}

// FinishMatchJobName is the deferred job name of a match's completion.
func FinishMatchJobName(matchID string) string {
	return "finish-match:" + matchID
}

// NewCronScheduler builds the process-wide gocron scheduler. Both the tick
// job and the deferred completions run on it.
func NewCronScheduler(clock clockwork.Clock) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create scheduler")
	}
	return s, nil
}

// GocronDeferred keeps deferred actions in memory on a gocron scheduler.
// Pending actions are lost on restart; the overdue match sweep covers that.
type GocronDeferred struct {
	ctx   context.Context
	sched gocron.Scheduler
	clock clockwork.Clock

	mu      sync.Mutex
	pending map[string]uuid.UUID
}

// NewGocronDeferred returns a DeferredScheduler. ctx is handed to every task.
func NewGocronDeferred(ctx context.Context, sched gocron.Scheduler, clock clockwork.Clock) *GocronDeferred {
	return &GocronDeferred{
		ctx:     ctx,
		sched:   sched,
		clock:   clock,
		pending: make(map[string]uuid.UUID),
	}
}

func (d *GocronDeferred) ScheduleOnce(name string, delay time.Duration, task func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pending[name]; ok {
		return eris.Wrapf(ErrJobAlreadyScheduled, "job %s", name)
	}

	start := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		start = gocron.OneTimeJobStartDateTime(d.clock.Now().Add(delay))
	}

	job, err := d.newJob(name, start, task)
	if errors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		// the deadline passed while registering
		job, err = d.newJob(name, gocron.OneTimeJobStartImmediately(), task)
	}
	if err != nil {
		return eris.Wrapf(err, "failed to schedule %s", name)
	}
	d.pending[name] = job.ID()
	return nil
}

func (d *GocronDeferred) newJob(name string, start gocron.OneTimeJobStartAtOption, task func(ctx context.Context)) (gocron.Job, error) {
	return d.sched.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			defer d.release(name)
			task(d.ctx)
		}),
		gocron.WithName(name),
		gocron.WithTags(deferredTag),
	)
}

func (d *GocronDeferred) release(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, name)
}

// Pending returns the names of actions that have not run yet.
func (d *GocronDeferred) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.pending))
	for name := range d.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// gocronLogger forwards gocron's own logging to zerolog.
type gocronLogger struct{}

func (gocronLogger) Debug(msg string, args ...any) { log.Debug().Fields(args).Msg(msg) }
func (gocronLogger) Info(msg string, args ...any)  { log.Info().Fields(args).Msg(msg) }
func (gocronLogger) Warn(msg string, args ...any)  { log.Warn().Fields(args).Msg(msg) }
func (gocronLogger) Error(msg string, args ...any) { log.Error().Fields(args).Msg(msg) }
