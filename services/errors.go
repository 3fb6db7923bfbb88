package services

import (
	"github.com/rotisserie/eris"

	"matchmaking-system/repository"
)

var (
	// NotFound
	ErrTicketNotFound = eris.New("ticket not found or not waiting")
	ErrMatchNotFound  = eris.New("match not found")

	// ErrMatchAlreadyFinished is reported by a repeated Finish. Nothing is
	// applied a second time.
	ErrMatchAlreadyFinished = eris.New("match already finished")

	// ErrStorage means the store did not hand back a row it must have
	// produced. The surrounding transaction is rolled back.
	ErrStorage = eris.New("storage returned an unexpected result")

	// ErrNoBracket is a configuration error of the rating table.
	ErrNoBracket = eris.New("no rating bracket covers the rating")

	ErrAlreadyQueued       = eris.New("user already has a waiting ticket")
	ErrMatchNotActive      = eris.New("match is not accepting scores")
	ErrInvalidInput        = eris.New("invalid input")
	ErrTickInProgress      = eris.New("matchmaking tick already running")
	ErrJobAlreadyScheduled = eris.New("deferred job already scheduled")
)

// IsNotFound reports whether err means a missing or already settled entity.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrTicketNotFound) ||
		eris.Is(err, ErrMatchNotFound) ||
		eris.Is(err, ErrMatchAlreadyFinished)
}

func IsStorage(err error) bool {
	return eris.Is(err, ErrStorage)
}

func isNoRows(err error) bool {
	return eris.Is(err, repository.ErrNoRows)
}
