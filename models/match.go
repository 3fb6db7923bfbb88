package models

import (
	"time"

	"gorm.io/gorm"
)

type MatchState string

const (
	MatchCreated  MatchState = "CREATED"
	MatchFinished MatchState = "FINISHED"
)

// Match is a scheduled contest between the owners of exactly two tickets.
type Match struct {
	ID     string     `gorm:"primaryKey;type:uuid" json:"id"`
	PoolID string     `gorm:"index;not null" json:"pool_id"`
	State  MatchState `gorm:"type:varchar(16);index;not null;default:'CREATED'" json:"state"`

	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	StartAt    time.Time  `gorm:"not null" json:"start_at"`
	EndAt      time.Time  `gorm:"index;not null" json:"end_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Match) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	if m.State == "" {
		m.State = MatchCreated
	}
	return nil
}

// Active reports whether play is allowed at t.
func (m *Match) Active(t time.Time) bool {
	return m.State == MatchCreated && !t.Before(m.StartAt) && t.Before(m.EndAt)
}
