package services

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"matchmaking-system/models"
	"matchmaking-system/repository"
)

// MatchLifecycle is the only writer of match state and player ratings.
type MatchLifecycle struct {
	store  repository.Store
	rating *RatingEngine
	clock  clockwork.Clock
}

func NewMatchLifecycle(store repository.Store, rating *RatingEngine, clock clockwork.Clock) *MatchLifecycle {
	return &MatchLifecycle{store: store, rating: rating, clock: clock}
}

// PlayerResult is the settlement of one side of a finished match.
type PlayerResult struct {
	UserID   string  `json:"user_id"`
	TicketID string  `json:"ticket_id"`
	Score    int64   `json:"score"`
	Outcome  Outcome `json:"-"`
	Before   int     `json:"trophy_before"`
	Delta    int     `json:"trophy_change"`
	After    int     `json:"trophy_after"`
}

type FinishedMatch struct {
	Match   models.Match    `json:"match"`
	Draw    bool            `json:"draw"`
	Players [2]PlayerResult `json:"players"`
}

// MatchView is a match together with the two tickets it was created from.
type MatchView struct {
	Match   models.Match    `json:"match"`
	Tickets []models.Ticket `json:"tickets"`
}

// Create inserts a CREATED match inside tx.
func (l *MatchLifecycle) Create(tx repository.Tx, poolID string, createdAt, startAt, endAt time.Time) (*models.Match, error) {
	m := &models.Match{
		PoolID:    poolID,
		State:     models.MatchCreated,
		CreatedAt: createdAt,
		StartAt:   startAt,
		EndAt:     endAt,
	}
	err := tx.InsertMatch(m)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrStorage, "insert of match in pool %s returned no row", poolID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Finish settles a match inside tx: the state moves CREATED -> FINISHED and
// both players' trophies change, or nothing changes at all. A second call for
// the same match returns ErrMatchAlreadyFinished.
func (l *MatchLifecycle) Finish(tx repository.Tx, matchID string) (*FinishedMatch, error) {
	m, err := tx.GetMatch(matchID)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrMatchNotFound, "match %s", matchID)
	}
	if err != nil {
		return nil, err
	}
	if m.State == models.MatchFinished {
		return nil, eris.Wrapf(ErrMatchAlreadyFinished, "match %s", matchID)
	}

	now := l.clock.Now().UTC()
	n, err := tx.CompleteMatch(matchID, now)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// another finisher committed between our read and the update
		return nil, eris.Wrapf(ErrMatchAlreadyFinished, "match %s", matchID)
	}
	m.State = models.MatchFinished
	m.FinishedAt = &now

	tickets, err := tx.ListMatchTickets(matchID)
	if err != nil {
		return nil, err
	}
	if len(tickets) != 2 {
		return nil, eris.Wrapf(ErrStorage, "match %s references %d tickets", matchID, len(tickets))
	}

	res := &FinishedMatch{Match: *m}
	for i, t := range tickets {
		res.Players[i] = PlayerResult{UserID: t.UserID, TicketID: t.ID, Score: t.Score}
	}
	if tickets[0].Score == tickets[1].Score {
		res.Draw = true
		ratings, err := lockRatings(tx, res)
		if err != nil {
			return nil, err
		}
		for i, r := range ratings {
			res.Players[i].Before, res.Players[i].After = r.Trophy, r.Trophy
		}
		return res, nil
	}

	if tickets[0].Score > tickets[1].Score {
		res.Players[0].Outcome, res.Players[1].Outcome = OutcomeWin, OutcomeLose
	} else {
		res.Players[0].Outcome, res.Players[1].Outcome = OutcomeLose, OutcomeWin
	}

	if err := l.settle(tx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// lockRatings locks the rating rows of both players, indexed like
// res.Players. Rows are always locked in user id order so two finishes
// touching the same players cannot deadlock.
func lockRatings(tx repository.Tx, res *FinishedMatch) ([2]*models.PlayerRating, error) {
	order := []int{0, 1}
	sort.Slice(order, func(a, b int) bool {
		return res.Players[order[a]].UserID < res.Players[order[b]].UserID
	})

	var ratings [2]*models.PlayerRating
	for _, i := range order {
		r, err := tx.LockRating(res.Players[i].UserID)
		if err != nil {
			return ratings, err
		}
		ratings[i] = r
	}
	return ratings, nil
}

// settle locks both ratings, computes both deltas and only then writes.
func (l *MatchLifecycle) settle(tx repository.Tx, res *FinishedMatch) error {
	ratings, err := lockRatings(tx, res)
	if err != nil {
		return err
	}

	var deltas [2]int
	for i := range res.Players {
		d, err := l.rating.Change(ratings[i].Trophy, ratings[1-i].Trophy, res.Players[i].Outcome)
		if err != nil {
			return eris.Wrapf(err, "match %s user %s", res.Match.ID, res.Players[i].UserID)
		}
		deltas[i] = d
	}

	for i := range res.Players {
		p := &res.Players[i]
		r := ratings[i]
		p.Before = r.Trophy
		p.Delta = deltas[i]
		p.After = ApplyDelta(r.Trophy, deltas[i])

		r.Trophy = p.After
		if p.Outcome == OutcomeWin {
			r.Wins++
		} else {
			r.Losses++
		}
		if err := tx.SaveRating(r); err != nil {
			return err
		}
	}
	return nil
}

// FinishNow runs Finish in a transaction of its own. It is the deferred
// completion action and the recovery sweep entry point.
func (l *MatchLifecycle) FinishNow(ctx context.Context, matchID string) (*FinishedMatch, error) {
	var res *FinishedMatch
	err := l.store.RunInTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = l.Finish(tx, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("match_id", matchID).Bool("draw", res.Draw).Msg("match finished")
	for _, p := range res.Players {
		log.Debug().
			Str("match_id", matchID).
			Str("user_id", p.UserID).
			Int("trophy_before", p.Before).
			Int("trophy_change", p.Delta).
			Int("trophy_after", p.After).
			Msg("trophies settled")
	}
	return res, nil
}

// RecordScore adds points to the ticket userID holds in a running match.
func (l *MatchLifecycle) RecordScore(ctx context.Context, matchID, userID string, points int64) error {
	if points <= 0 {
		return eris.Wrapf(ErrInvalidInput, "points must be positive, got %d", points)
	}
	return l.store.RunInTx(ctx, func(tx repository.Tx) error {
		m, err := tx.GetMatch(matchID)
		if isNoRows(err) {
			return eris.Wrapf(ErrMatchNotFound, "match %s", matchID)
		}
		if err != nil {
			return err
		}
		if !m.Active(l.clock.Now()) {
			return eris.Wrapf(ErrMatchNotActive, "match %s", matchID)
		}
		n, err := tx.AddTicketScore(matchID, userID, points)
		if err != nil {
			return err
		}
		if n == 0 {
			return eris.Wrapf(ErrTicketNotFound, "user %s has no ticket in match %s", userID, matchID)
		}
		return nil
	})
}

func (l *MatchLifecycle) Get(ctx context.Context, matchID string) (*MatchView, error) {
	m, err := l.store.GetMatch(ctx, matchID)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrMatchNotFound, "match %s", matchID)
	}
	if err != nil {
		return nil, err
	}
	tickets, err := l.store.ListMatchTickets(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return &MatchView{Match: *m, Tickets: tickets}, nil
}

// Rating returns the trophies of userID; players who never finished a match
// have zero.
func (l *MatchLifecycle) Rating(ctx context.Context, userID string) (*models.PlayerRating, error) {
	r, err := l.store.GetRating(ctx, userID)
	if isNoRows(err) {
		return &models.PlayerRating{UserID: userID}, nil
	}
	return r, err
}

// FinishAndReport finishes a match from a background job. Errors are logged
// and never propagate; an already finished match is not an error here.
func (l *MatchLifecycle) FinishAndReport(ctx context.Context, matchID, source string) {
	_, err := l.FinishNow(ctx, matchID)
	switch {
	case err == nil:
	case eris.Is(err, ErrMatchAlreadyFinished):
		log.Debug().Str("match_id", matchID).Str("source", source).Msg("match already finished")
	default:
		log.Error().Err(err).Str("match_id", matchID).Str("source", source).Msg("failed to finish match")
	}
}
