package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"matchmaking-system/models"
)

// GormStore implements Store on top of gorm.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Migrate creates or updates the tables owned by the matchmaking core.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Ticket{},
		&models.Match{},
		&models.PlayerRating{},
	); err != nil {
		return eris.Wrap(err, "failed to migrate matchmaking tables")
	}
	// at most one WAITING ticket per user
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_waiting_user
		ON tickets (user_id) WHERE state = 'WAITING'`).Error
	if err != nil {
		return eris.Wrap(err, "failed to create waiting ticket index")
	}
	return nil
}

func (s *GormStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormTx{db: tx})
	})
}

func (s *GormStore) ListWaitingTickets(ctx context.Context, poolID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := s.DB.WithContext(ctx).Where("state = ?", models.TicketWaiting)
	if poolID != "" {
		q = q.Where("pool_id = ?", poolID)
	}
	if err := q.Order("created_at ASC, id ASC").Find(&tickets).Error; err != nil {
		return nil, eris.Wrap(err, "failed to list waiting tickets")
	}
	return tickets, nil
}

func (s *GormStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "ticket %s", id)
	}
	return &t, nil
}

func (s *GormStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	return getMatch(s.DB.WithContext(ctx), id)
}

func (s *GormStore) ListMatchTickets(ctx context.Context, matchID string) ([]models.Ticket, error) {
	return listMatchTickets(s.DB.WithContext(ctx), matchID)
}

func (s *GormStore) GetRating(ctx context.Context, userID string) (*models.PlayerRating, error) {
	var r models.PlayerRating
	if err := s.DB.WithContext(ctx).First(&r, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "rating %s", userID)
	}
	return &r, nil
}

func (s *GormStore) ListOverdueMatches(ctx context.Context, now time.Time, limit int) ([]models.Match, error) {
	var matches []models.Match
	err := s.DB.WithContext(ctx).
		Where("state = ? AND end_at <= ?", models.MatchCreated, now).
		Order("end_at ASC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, eris.Wrap(err, "failed to list overdue matches")
	}
	return matches, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t gormTx) InsertTicket(ticket *models.Ticket) error {
	if err := t.db.Create(ticket).Error; err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "waiting ticket of user %s", ticket.UserID)
		}
		return eris.Wrap(err, "failed to insert ticket")
	}
	return nil
}

func (t gormTx) HasWaitingTicket(userID string) (bool, error) {
	var count int64
	err := t.db.Model(&models.Ticket{}).
		Where("user_id = ? AND state = ?", userID, models.TicketWaiting).
		Count(&count).Error
	if err != nil {
		return false, eris.Wrap(err, "failed to count waiting tickets")
	}
	return count > 0, nil
}

func (t gormTx) CancelWaitingTickets(userID string) (int64, error) {
	res := t.db.Model(&models.Ticket{}).
		Where("user_id = ? AND state = ?", userID, models.TicketWaiting).
		Update("state", models.TicketCancelled)
	if res.Error != nil {
		return 0, eris.Wrap(res.Error, "failed to cancel tickets")
	}
	return res.RowsAffected, nil
}

func (t gormTx) MarkTicketMatched(ticketID, matchID string) (int64, error) {
	res := t.db.Model(&models.Ticket{}).
		Where("id = ? AND state = ?", ticketID, models.TicketWaiting).
		Updates(map[string]interface{}{
			"state":    models.TicketMatched,
			"match_id": matchID,
		})
	if res.Error != nil {
		return 0, eris.Wrapf(res.Error, "failed to mark ticket %s matched", ticketID)
	}
	return res.RowsAffected, nil
}

func (t gormTx) AddTicketScore(matchID, userID string, points int64) (int64, error) {
	res := t.db.Model(&models.Ticket{}).
		Where("match_id = ? AND user_id = ?", matchID, userID).
		Update("score", gorm.Expr("score + ?", points))
	if res.Error != nil {
		return 0, eris.Wrap(res.Error, "failed to add score")
	}
	return res.RowsAffected, nil
}

func (t gormTx) InsertMatch(m *models.Match) error {
	res := t.db.Create(m)
	if res.Error != nil {
		return eris.Wrap(res.Error, "failed to insert match")
	}
	if res.RowsAffected != 1 {
		return eris.Wrapf(ErrNoRows, "insert of match in pool %s wrote %d rows", m.PoolID, res.RowsAffected)
	}
	return nil
}

func (t gormTx) GetMatch(id string) (*models.Match, error) {
	return getMatch(t.db, id)
}

func (t gormTx) CompleteMatch(id string, at time.Time) (int64, error) {
	res := t.db.Model(&models.Match{}).
		Where("id = ? AND state = ?", id, models.MatchCreated).
		Updates(map[string]interface{}{
			"state":       models.MatchFinished,
			"finished_at": at,
		})
	if res.Error != nil {
		return 0, eris.Wrapf(res.Error, "failed to complete match %s", id)
	}
	return res.RowsAffected, nil
}

func (t gormTx) ListMatchTickets(matchID string) ([]models.Ticket, error) {
	return listMatchTickets(t.db, matchID)
}

func (t gormTx) LockRating(userID string) (*models.PlayerRating, error) {
	err := t.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PlayerRating{UserID: userID}).Error
	if err != nil {
		return nil, eris.Wrapf(err, "failed to ensure rating for %s", userID)
	}

	var r models.PlayerRating
	if err := forUpdate(t.db).First(&r, "user_id = ?", userID).Error; err != nil {
		return nil, notFound(err, "rating %s", userID)
	}
	return &r, nil
}

func (t gormTx) SaveRating(r *models.PlayerRating) error {
	if err := t.db.Save(r).Error; err != nil {
		return eris.Wrapf(err, "failed to save rating for %s", r.UserID)
	}
	return nil
}

// forUpdate adds SELECT ... FOR UPDATE on dialects that have it.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func getMatch(db *gorm.DB, id string) (*models.Match, error) {
	var m models.Match
	if err := db.First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "match %s", id)
	}
	return &m, nil
}

func listMatchTickets(db *gorm.DB, matchID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	if err := db.Where("match_id = ?", matchID).Order("created_at ASC, id ASC").Find(&tickets).Error; err != nil {
		return nil, eris.Wrapf(err, "failed to list tickets of match %s", matchID)
	}
	return tickets, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return eris.Wrapf(ErrNoRows, format, args...)
	}
	return eris.Wrapf(err, "failed to load "+format, args...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite reports constraint failures only in the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
