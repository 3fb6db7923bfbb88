package models

import "gorm.io/gorm"

type TicketState string

const (
	TicketWaiting   TicketState = "WAITING"
	TicketMatched   TicketState = "MATCHED"
	TicketCancelled TicketState = "CANCELLED"
)

// Ticket is a player's request to be matched inside a pool.
type Ticket struct {
	ID      string      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID  string      `gorm:"index;not null" json:"user_id"`
	PoolID  string      `gorm:"index;not null" json:"pool_id"`
	State   TicketState `gorm:"type:varchar(16);index;not null;default:'WAITING'" json:"state"`
	MatchID *string     `gorm:"type:uuid;index" json:"match_id,omitempty"`

	// Points collected by the owner while the match is running.
	Score int64 `gorm:"not null;default:0" json:"score"`

	Timestamps
}

func (t *Ticket) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	if t.State == "" {
		t.State = TicketWaiting
	}
	return nil
}
