package models

import "time"

// PlayerRating holds the trophy count of a player. Rows are created lazily
// with zero trophies.
type PlayerRating struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	Trophy    int       `gorm:"not null;default:0" json:"trophy"`
	Wins      int64     `gorm:"not null;default:0" json:"wins"`
	Losses    int64     `gorm:"not null;default:0" json:"losses"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
