package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"matchmaking-system/models"
	"matchmaking-system/repository"
)

// newFileStore opens a sqlite database on disk so that several pooled
// connections share it.
func newFileStore(t *testing.T) *repository.GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "matchmaking.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return repository.NewGormStore(db)
}

func TestFinishNowConcurrentCallersSettleOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	store := newFileStore(t)
	engine, err := NewRatingEngine(DefaultBrackets)
	require.NoError(t, err)
	lifecycle := NewMatchLifecycle(store, engine, clock)

	var matchID string
	err = store.RunInTx(ctx, func(tx repository.Tx) error {
		now := clock.Now()
		m, err := lifecycle.Create(tx, "casual", now, now, now.Add(time.Minute))
		if err != nil {
			return err
		}
		matchID = m.ID
		for _, userID := range []string{"alice", "bob"} {
			ticket := &models.Ticket{UserID: userID, PoolID: "casual", State: models.TicketWaiting}
			if err := tx.InsertTicket(ticket); err != nil {
				return err
			}
			if _, err := tx.MarkTicketMatched(ticket.ID, m.ID); err != nil {
				return err
			}
		}
		_, err = tx.AddTicketScore(m.ID, "alice", 3)
		return err
	})
	require.NoError(t, err)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*FinishedMatch
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := lifecycle.FinishNow(ctx, matchID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, res)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, results, 1, "errors: %v", errs)
	assert.Len(t, errs, callers-1)

	winner := playerOf(t, results[0], "alice")
	loser := playerOf(t, results[0], "bob")
	assert.Positive(t, winner.Delta)

	alice, err := lifecycle.Rating(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, winner.After, alice.Trophy)
	assert.EqualValues(t, 1, alice.Wins)
	assert.EqualValues(t, 0, alice.Losses)

	bob, err := lifecycle.Rating(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, loser.After, bob.Trophy)
	assert.EqualValues(t, 0, bob.Wins)
	assert.EqualValues(t, 1, bob.Losses)

	view, err := lifecycle.Get(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchFinished, view.Match.State)

	// a late caller sees the settled match
	_, err = lifecycle.FinishNow(ctx, matchID)
	require.ErrorIs(t, err, ErrMatchAlreadyFinished)
}
