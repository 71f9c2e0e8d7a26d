package models

import "time"

// Round is one timed sub-game of a party, scoped to a single starting
// letter. A party never reuses a letter, and at most one round per party
// is open (closed_at null) at any time.
type Round struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	PartyID   uint       `json:"party_id" gorm:"not null;uniqueIndex:idx_party_letter"`
	Letter    string     `json:"letter" gorm:"size:1;not null;uniqueIndex:idx_party_letter"`
	StartedAt time.Time  `json:"started_at" gorm:"autoCreateTime"`
	ClosedAt  *time.Time `json:"closed_at"`
	CreatedAt time.Time  `json:"created_at"`

	// Relationships
	Party   Party    `json:"party,omitempty"`
	Answers []Answer `json:"answers,omitempty" gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
}

func (r *Round) IsOpen() bool {
	return r.ClosedAt == nil
}
