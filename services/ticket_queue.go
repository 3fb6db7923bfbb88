package services

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"matchmaking-system/models"
	"matchmaking-system/repository"
)

// TicketQueue owns ticket creation and state transitions.
type TicketQueue struct {
	store repository.Store
}

func NewTicketQueue(store repository.Store) *TicketQueue {
	return &TicketQueue{store: store}
}

// PoolTickets is the queue of one pool, in queue order.
type PoolTickets struct {
	PoolID  string
	Tickets []models.Ticket
}

// NormalizePoolID turns a free-form pool name ("Ranked Duel") into the key
// tickets are grouped by ("ranked-duel").
func NormalizePoolID(poolID string) string {
	return slug.Make(strings.TrimSpace(poolID))
}

// Enqueue creates a WAITING ticket for userID. A user can hold one waiting
// ticket at a time.
func (q *TicketQueue) Enqueue(ctx context.Context, userID, poolID string) (*models.Ticket, error) {
	userID = strings.TrimSpace(userID)
	poolID = NormalizePoolID(poolID)
	if userID == "" || poolID == "" {
		return nil, eris.Wrap(ErrInvalidInput, "user id and pool id are required")
	}

	ticket := &models.Ticket{UserID: userID, PoolID: poolID, State: models.TicketWaiting}
	err := q.store.RunInTx(ctx, func(tx repository.Tx) error {
		waiting, err := tx.HasWaitingTicket(userID)
		if err != nil {
			return err
		}
		if waiting {
			return eris.Wrapf(ErrAlreadyQueued, "user %s", userID)
		}
		// a concurrent enqueue can pass the check above; the unique index
		// rejects the second insert
		err = tx.InsertTicket(ticket)
		if eris.Is(err, repository.ErrDuplicate) {
			return eris.Wrapf(ErrAlreadyQueued, "user %s", userID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("ticket_id", ticket.ID).Str("user_id", userID).Str("pool_id", poolID).Msg("ticket enqueued")
	return ticket, nil
}

// Cancel withdraws every waiting ticket of userID and returns how many were
// withdrawn.
func (q *TicketQueue) Cancel(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := q.store.RunInTx(ctx, func(tx repository.Tx) error {
		var err error
		n, err = tx.CancelWaitingTickets(userID)
		return err
	})
	return n, err
}

func (q *TicketQueue) Get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	t, err := q.store.GetTicket(ctx, ticketID)
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrTicketNotFound, "ticket %s", ticketID)
	}
	return t, err
}

// ListWaiting returns all waiting tickets, optionally of one pool only. The
// read is not isolated from concurrent enqueues; late tickets are picked up
// by the next tick.
func (q *TicketQueue) ListWaiting(ctx context.Context, poolFilter string) ([]models.Ticket, error) {
	if poolFilter != "" {
		poolFilter = NormalizePoolID(poolFilter)
	}
	return q.store.ListWaitingTickets(ctx, poolFilter)
}

// GroupByPool splits tickets by pool. Groups appear in the order their first
// ticket appears and keep the input order inside.
func GroupByPool(tickets []models.Ticket) []PoolTickets {
	var groups []PoolTickets
	index := make(map[string]int)
	for _, t := range tickets {
		i, ok := index[t.PoolID]
		if !ok {
			i = len(groups)
			index[t.PoolID] = i
			groups = append(groups, PoolTickets{PoolID: t.PoolID})
		}
		groups[i].Tickets = append(groups[i].Tickets, t)
	}
	return groups
}

// MarkMatched assigns a waiting ticket to matchID inside tx.
func (q *TicketQueue) MarkMatched(tx repository.Tx, ticketID, matchID string) error {
	n, err := tx.MarkTicketMatched(ticketID, matchID)
	if err != nil {
		return err
	}
	if n == 0 {
		return eris.Wrapf(ErrTicketNotFound, "ticket %s", ticketID)
	}
	return nil
}
