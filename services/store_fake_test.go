package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"matchmaking-system/models"
	"matchmaking-system/repository"
)

// memStore is a transactional in-memory Store. Transactions are serialised
// and work on a copy of the state that replaces the original on commit.
type memStore struct {
	mu    sync.Mutex
	state memState
	clock clockwork.Clock

	// failMarkMatched, when set, is consulted before every MarkTicketMatched.
	failMarkMatched func(ticketID string) error
	// dropMatchID makes InsertMatch behave like an insert writing no row.
	dropMatchID bool
	// staleWaitingCheck makes HasWaitingTicket miss existing tickets, as a
	// concurrent enqueue that has not committed yet would.
	staleWaitingCheck bool
	txCount           int
	lockOrder         []string
}

type memState struct {
	tickets []models.Ticket
	matches map[string]models.Match
	ratings map[string]models.PlayerRating
}

func (s memState) clone() memState {
	c := memState{
		tickets: append([]models.Ticket(nil), s.tickets...),
		matches: make(map[string]models.Match, len(s.matches)),
		ratings: make(map[string]models.PlayerRating, len(s.ratings)),
	}
	for k, v := range s.matches {
		c.matches[k] = v
	}
	for k, v := range s.ratings {
		c.ratings[k] = v
	}
	return c
}

func newMemStore(clock clockwork.Clock) *memStore {
	return &memStore{
		clock: clock,
		state: memState{
			matches: map[string]models.Match{},
			ratings: map[string]models.PlayerRating{},
		},
	}
}

func (s *memStore) RunInTx(_ context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	work := s.state.clone()
	if err := fn(memTx{store: s, state: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) ListWaitingTickets(_ context.Context, poolID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.state.tickets {
		if t.State == models.TicketWaiting && (poolID == "" || t.PoolID == poolID) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.state.tickets {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, eris.Wrapf(repository.ErrNoRows, "ticket %s", id)
}

func (s *memStore) GetMatch(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx{store: s, state: &s.state}.GetMatch(id)
}

func (s *memStore) ListMatchTickets(_ context.Context, matchID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memTx{store: s, state: &s.state}.ListMatchTickets(matchID)
}

func (s *memStore) GetRating(_ context.Context, userID string) (*models.PlayerRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.ratings[userID]
	if !ok {
		return nil, eris.Wrapf(repository.ErrNoRows, "rating %s", userID)
	}
	return &r, nil
}

func (s *memStore) ListOverdueMatches(_ context.Context, now time.Time, limit int) ([]models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Match
	for _, m := range s.state.matches {
		if m.State == models.MatchCreated && !m.EndAt.After(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(out[j].EndAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// test helpers, called outside transactions

func (s *memStore) addTicket(userID, poolID string) models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := models.Ticket{ID: uuid.NewString(), UserID: userID, PoolID: poolID, State: models.TicketWaiting}
	// strictly increasing creation times keep queue order deterministic
	t.CreatedAt = s.clock.Now().Add(time.Duration(len(s.state.tickets)) * time.Millisecond)
	s.state.tickets = append(s.state.tickets, t)
	return t
}

func (s *memStore) ticket(id string) models.Ticket {
	t, _ := s.GetTicket(context.Background(), id)
	return *t
}

func (s *memStore) setRating(userID string, trophy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ratings[userID] = models.PlayerRating{UserID: userID, Trophy: trophy}
}

func (s *memStore) trophy(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ratings[userID].Trophy
}

func (s *memStore) matchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.matches)
}

func (s *memStore) countTickets(state models.TicketState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.state.tickets {
		if t.State == state {
			n++
		}
	}
	return n
}

type memTx struct {
	store *memStore
	state *memState
}

func (tx memTx) InsertTicket(t *models.Ticket) error {
	if t.State == models.TicketWaiting {
		for _, other := range tx.state.tickets {
			if other.UserID == t.UserID && other.State == models.TicketWaiting {
				return eris.Wrapf(repository.ErrDuplicate, "waiting ticket of user %s", t.UserID)
			}
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.store.clock.Now()
	}
	tx.state.tickets = append(tx.state.tickets, *t)
	return nil
}

func (tx memTx) HasWaitingTicket(userID string) (bool, error) {
	if tx.store.staleWaitingCheck {
		return false, nil
	}
	for _, t := range tx.state.tickets {
		if t.UserID == userID && t.State == models.TicketWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (tx memTx) CancelWaitingTickets(userID string) (int64, error) {
	var n int64
	for i, t := range tx.state.tickets {
		if t.UserID == userID && t.State == models.TicketWaiting {
			tx.state.tickets[i].State = models.TicketCancelled
			n++
		}
	}
	return n, nil
}

func (tx memTx) MarkTicketMatched(ticketID, matchID string) (int64, error) {
	if tx.store.failMarkMatched != nil {
		if err := tx.store.failMarkMatched(ticketID); err != nil {
			return 0, err
		}
	}
	for i, t := range tx.state.tickets {
		if t.ID == ticketID && t.State == models.TicketWaiting {
			id := matchID
			tx.state.tickets[i].State = models.TicketMatched
			tx.state.tickets[i].MatchID = &id
			return 1, nil
		}
	}
	return 0, nil
}

func (tx memTx) AddTicketScore(matchID, userID string, points int64) (int64, error) {
	var n int64
	for i, t := range tx.state.tickets {
		if t.MatchID != nil && *t.MatchID == matchID && t.UserID == userID {
			tx.state.tickets[i].Score += points
			n++
		}
	}
	return n, nil
}

func (tx memTx) InsertMatch(m *models.Match) error {
	if tx.store.dropMatchID {
		return eris.Wrapf(repository.ErrNoRows, "insert of match in pool %s", m.PoolID)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tx.state.matches[m.ID] = *m
	return nil
}

func (tx memTx) GetMatch(id string) (*models.Match, error) {
	m, ok := tx.state.matches[id]
	if !ok {
		return nil, eris.Wrapf(repository.ErrNoRows, "match %s", id)
	}
	return &m, nil
}

func (tx memTx) CompleteMatch(id string, at time.Time) (int64, error) {
	m, ok := tx.state.matches[id]
	if !ok || m.State != models.MatchCreated {
		return 0, nil
	}
	m.State = models.MatchFinished
	m.FinishedAt = &at
	tx.state.matches[id] = m
	return 1, nil
}

func (tx memTx) ListMatchTickets(matchID string) ([]models.Ticket, error) {
	var out []models.Ticket
	for _, t := range tx.state.tickets {
		if t.MatchID != nil && *t.MatchID == matchID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx memTx) LockRating(userID string) (*models.PlayerRating, error) {
	tx.store.lockOrder = append(tx.store.lockOrder, userID)
	r, ok := tx.state.ratings[userID]
	if !ok {
		r = models.PlayerRating{UserID: userID}
		tx.state.ratings[userID] = r
	}
	return &r, nil
}

func (tx memTx) SaveRating(r *models.PlayerRating) error {
	tx.state.ratings[r.UserID] = *r
	return nil
}

// fakeDeferred records deferred registrations instead of running them.
type fakeDeferred struct {
	mu   sync.Mutex
	jobs []fakeJob
}

type fakeJob struct {
	name  string
	delay time.Duration
	task  func(ctx context.Context)
}

func (d *fakeDeferred) ScheduleOnce(name string, delay time.Duration, task func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, j := range d.jobs {
		if j.name == name {
			return eris.Wrapf(ErrJobAlreadyScheduled, "job %s", name)
		}
	}
	d.jobs = append(d.jobs, fakeJob{name: name, delay: delay, task: task})
	return nil
}

func (d *fakeDeferred) snapshot() []fakeJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fakeJob(nil), d.jobs...)
}
