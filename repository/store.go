// Package repository is the storage boundary of the matchmaking core.
//
// Writes happen only through a Tx handed out by Store.RunInTx. There is no
// unscoped write path, so every mutation of a tick or a match finish is
// committed or rolled back as one unit.
package repository

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"matchmaking-system/models"
)

var (
	// ErrNoRows is returned by single-row lookups that found nothing and by
	// inserts that wrote nothing.
	ErrNoRows = eris.New("record not found")
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = eris.New("duplicate record")
)

// Store is the narrow view of the relational store used by the services.
type Store interface {
	// RunInTx runs fn inside one transaction. A non-nil error from fn rolls
	// the transaction back and is returned unchanged.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// ListWaitingTickets returns WAITING tickets in queue order. An empty
	// poolID means every pool.
	ListWaitingTickets(ctx context.Context, poolID string) ([]models.Ticket, error)
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	ListMatchTickets(ctx context.Context, matchID string) ([]models.Ticket, error)
	GetRating(ctx context.Context, userID string) (*models.PlayerRating, error)
	// ListOverdueMatches returns CREATED matches whose end is not after now,
	// oldest first.
	ListOverdueMatches(ctx context.Context, now time.Time, limit int) ([]models.Match, error)
}

// Tx is a transaction scope. Implementations are small values and are passed
// by value through every call of one unit of work.
type Tx interface {
	// InsertTicket fails with ErrDuplicate when the user already holds a
	// WAITING ticket.
	InsertTicket(t *models.Ticket) error
	HasWaitingTicket(userID string) (bool, error)
	CancelWaitingTickets(userID string) (int64, error)
	// MarkTicketMatched flips a WAITING ticket to MATCHED and returns the
	// number of rows changed (0 when the ticket is gone or no longer waiting).
	MarkTicketMatched(ticketID, matchID string) (int64, error)
	AddTicketScore(matchID, userID string, points int64) (int64, error)

	InsertMatch(m *models.Match) error
	GetMatch(id string) (*models.Match, error)
	// CompleteMatch is a compare-and-set CREATED -> FINISHED.
	CompleteMatch(id string, at time.Time) (int64, error)
	ListMatchTickets(matchID string) ([]models.Ticket, error)

	// LockRating returns the rating row of userID, creating it with zero
	// trophies when missing, locked for the rest of the transaction where the
	// dialect supports row locks.
	LockRating(userID string) (*models.PlayerRating, error)
	SaveRating(r *models.PlayerRating) error
}
