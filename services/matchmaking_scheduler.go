package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"matchmaking-system/models"
	"matchmaking-system/repository"
)

const (
	DefaultTickInterval = 8 * time.Second
	tickJobName         = "matchmaking-tick"
)

// Timing is the fixed schedule of every match.
type Timing struct {
	StartDelay   time.Duration // creation -> start
	Lifetime     time.Duration // start -> end
	TickInterval time.Duration
}

// MatchmakingScheduler pairs waiting tickets on a fixed interval and arranges
// for every match it creates to be finished when it ends.
type MatchmakingScheduler struct {
	store     repository.Store
	queue     *TicketQueue
	lifecycle *MatchLifecycle
	deferred  DeferredScheduler
	clock     clockwork.Clock
	timing    Timing

	busy atomic.Bool
}

func NewMatchmakingScheduler(
	store repository.Store,
	queue *TicketQueue,
	lifecycle *MatchLifecycle,
	deferred DeferredScheduler,
	clock clockwork.Clock,
	timing Timing,
) *MatchmakingScheduler {
	if timing.TickInterval <= 0 {
		timing.TickInterval = DefaultTickInterval
	}
	return &MatchmakingScheduler{
		store:     store,
		queue:     queue,
		lifecycle: lifecycle,
		deferred:  deferred,
		clock:     clock,
		timing:    timing,
	}
}

// TickReport describes what one tick did.
type TickReport struct {
	Pools    int
	Matches  []models.Match
	Leftover int // tickets left waiting because their pool had an odd count
}

// Start registers the recurring tick on sched. A tick still running when the
// next one is due makes gocron reschedule instead of overlapping.
func (s *MatchmakingScheduler) Start(ctx context.Context, sched gocron.Scheduler) (gocron.Job, error) {
	job, err := sched.NewJob(
		gocron.DurationJob(s.timing.TickInterval),
		gocron.NewTask(func() { s.runTick(ctx) }),
		gocron.WithName(tickJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to register matchmaking tick")
	}
	log.Info().Dur("interval", s.timing.TickInterval).Msg("matchmaking scheduler registered")
	return job, nil
}

func (s *MatchmakingScheduler) runTick(ctx context.Context) {
	report, err := s.Tick(ctx)
	if err != nil {
		if eris.Is(err, ErrTickInProgress) {
			log.Warn().Msg("matchmaking tick skipped, previous tick still running")
			return
		}
		log.Error().Err(err).Str("trace", eris.ToString(err, true)).Msg("matchmaking tick failed")
		return
	}
	if len(report.Matches) == 0 {
		log.Debug().Int("pools", report.Pools).Int("leftover", report.Leftover).Msg("matchmaking tick: nothing to pair")
		return
	}
	log.Info().
		Int("pools", report.Pools).
		Int("matches", len(report.Matches)).
		Int("leftover", report.Leftover).
		Msg("matchmaking tick committed")
}

// Tick runs one pairing pass: collect waiting tickets, pair them FIFO inside
// each pool, commit every match of the pass in a single transaction and then
// schedule their completion. Any failure rolls back the whole pass.
func (s *MatchmakingScheduler) Tick(ctx context.Context) (*TickReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, eris.Wrap(ErrTickInProgress, "tick")
	}
	defer s.busy.Store(false)

	tickets, err := s.queue.ListWaiting(ctx, "")
	if err != nil {
		return nil, err
	}
	groups := GroupByPool(tickets)

	report := &TickReport{Pools: len(groups)}
	pairs := 0
	for _, g := range groups {
		pairs += len(g.Tickets) / 2
		report.Leftover += len(g.Tickets) % 2
	}
	if pairs == 0 {
		return report, nil
	}

	var created []models.Match
	err = s.store.RunInTx(ctx, func(tx repository.Tx) error {
		created = make([]models.Match, 0, pairs)
		for _, g := range groups {
			for i := 0; i+1 < len(g.Tickets); i += 2 {
				m, err := s.createMatch(tx, g.PoolID, g.Tickets[i], g.Tickets[i+1])
				if err != nil {
					return eris.Wrapf(err, "pool %s", g.PoolID)
				}
				created = append(created, *m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "matchmaking tick rolled back")
	}

	report.Matches = created
	for _, m := range created {
		s.scheduleFinish(m)
	}
	return report, nil
}

func (s *MatchmakingScheduler) createMatch(tx repository.Tx, poolID string, a, b models.Ticket) (*models.Match, error) {
	// microsecond precision is what postgres keeps
	createdAt := s.clock.Now().UTC().Truncate(time.Microsecond)
	startAt := createdAt.Add(s.timing.StartDelay)
	endAt := startAt.Add(s.timing.Lifetime)

	m, err := s.lifecycle.Create(tx, poolID, createdAt, startAt, endAt)
	if err != nil {
		return nil, err
	}
	for _, t := range []models.Ticket{a, b} {
		if err := s.queue.MarkMatched(tx, t.ID, m.ID); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *MatchmakingScheduler) scheduleFinish(m models.Match) {
	timeout := m.CreatedAt.Add(s.timing.StartDelay + s.timing.Lifetime).Sub(s.clock.Now())
	matchID := m.ID

	err := s.deferred.ScheduleOnce(FinishMatchJobName(matchID), timeout, func(ctx context.Context) {
		s.lifecycle.FinishAndReport(ctx, matchID, "timer")
	})
	switch {
	case err == nil:
	case eris.Is(err, ErrJobAlreadyScheduled):
		log.Warn().Str("match_id", matchID).Msg("finish job already registered")
	default:
		// the overdue sweep finishes the match later
		log.Error().Err(err).Str("match_id", matchID).Msg("failed to schedule match finish")
	}
}
