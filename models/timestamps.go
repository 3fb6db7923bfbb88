package models

import (
	"time"

	"github.com/google/uuid"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ensureID fills an empty primary key. Postgres could default it with
// gen_random_uuid(), but the id is needed before the row is written back.
func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
