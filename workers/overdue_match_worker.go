package workers

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"matchmaking-system/models"
	"matchmaking-system/services"
)

const defaultSweepBatch = 100

// OverdueLister finds matches whose end has passed but that are still CREATED.
type OverdueLister interface {
	ListOverdueMatches(ctx context.Context, now time.Time, limit int) ([]models.Match, error)
}

type MatchFinisher interface {
	FinishNow(ctx context.Context, matchID string) (*services.FinishedMatch, error)
}

// OverdueMatchWorker finishes matches whose deferred completion never ran,
// typically because the process restarted while they were in progress.
type OverdueMatchWorker struct {
	lister   OverdueLister
	finisher MatchFinisher
	clock    clockwork.Clock
	interval time.Duration
	batch    int
}

func NewOverdueMatchWorker(lister OverdueLister, finisher MatchFinisher, clock clockwork.Clock, interval time.Duration) *OverdueMatchWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OverdueMatchWorker{
		lister:   lister,
		finisher: finisher,
		clock:    clock,
		interval: interval,
		batch:    defaultSweepBatch,
	}
}

func (w *OverdueMatchWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("starting overdue match worker")
	go w.run(ctx)
}

func (w *OverdueMatchWorker) run(ctx context.Context) {
	// matches that ended while the process was down
	if _, err := w.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("initial overdue sweep failed")
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := w.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("overdue sweep failed")
			}
		case <-ctx.Done():
			log.Info().Msg("overdue match worker stopped")
			return
		}
	}
}

// Sweep finishes overdue matches batch by batch and returns how many it
// finished. A match that fails is logged and left for the next sweep.
func (w *OverdueMatchWorker) Sweep(ctx context.Context) (int, error) {
	finished := 0
	for {
		matches, err := w.lister.ListOverdueMatches(ctx, w.clock.Now().UTC(), w.batch)
		if err != nil {
			return finished, eris.Wrap(err, "failed to list overdue matches")
		}

		failed := 0
		for _, m := range matches {
			if ctx.Err() != nil {
				return finished, ctx.Err()
			}
			_, err := w.finisher.FinishNow(ctx, m.ID)
			switch {
			case err == nil:
				finished++
			case eris.Is(err, services.ErrMatchAlreadyFinished):
			default:
				failed++
				log.Error().Err(err).Str("match_id", m.ID).Time("end_at", m.EndAt).Msg("failed to finish overdue match")
			}
		}

		// a full batch may hide more work; failures would be listed again
		if len(matches) < w.batch || failed > 0 {
			break
		}
	}

	if finished > 0 {
		log.Info().Int("finished", finished).Msg("overdue matches finished")
	}
	return finished, nil
}
