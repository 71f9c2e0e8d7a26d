package models

import (
	"time"

	"gorm.io/gorm"
)

type Party struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	Name      string     `json:"name" gorm:"not null"`
	StartedAt *time.Time `json:"started_at"`
	ClosedAt  *time.Time `json:"closed_at"`

	// Game rules. MaxRounds may never exceed 26: every round needs an
	// unused letter.
	MinPlayers       int `json:"min_players" gorm:"not null;default:2"`
	MaxRoundDuration int `json:"max_round_duration" gorm:"not null;default:120"` // seconds
	MaxRounds        int `json:"max_rounds" gorm:"not null;default:3"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	JoinedUsers []User  `json:"joined_users,omitempty" gorm:"many2many:party_players"`
	Rounds      []Round `json:"rounds,omitempty" gorm:"foreignKey:PartyID;constraint:OnDelete:CASCADE"`
}

// IsOpen reports whether the party can still be played or watched.
func (p *Party) IsOpen() bool {
	return p.ClosedAt == nil
}

// IsStarted reports whether the session actor already took ownership.
func (p *Party) IsStarted() bool {
	return p.StartedAt != nil
}
