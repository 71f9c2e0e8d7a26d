package models

import "time"

type AnswerField string

const (
	FieldName     AnswerField = "name"
	FieldLastName AnswerField = "last_name"
	FieldCountry  AnswerField = "country"
	FieldCity     AnswerField = "city"
	FieldAnimal   AnswerField = "animal"
	FieldThing    AnswerField = "thing"
	FieldColor    AnswerField = "color"
)

// AnswerFields is the fixed field set in display order. The reveal
// sequence after a round closes follows this order exactly.
var AnswerFields = []AnswerField{
	FieldName,
	FieldLastName,
	FieldCountry,
	FieldCity,
	FieldAnimal,
	FieldThing,
	FieldColor,
}

// FieldLabels maps fields to their display labels.
var FieldLabels = map[AnswerField]string{
	FieldName:     "Nombre",
	FieldLastName: "Apellido",
	FieldCountry:  "País",
	FieldCity:     "Ciudad",
	FieldAnimal:   "Animal",
	FieldThing:    "Cosa",
	FieldColor:    "Color",
}

// Answer is one player's submitted value for one field in one round.
// Resubmitting the same field upserts the row: last write wins.
// ScoredPoints stays null until the owning round is closed and scored.
type Answer struct {
	ID           uint        `json:"id" gorm:"primaryKey"`
	RoundID      uint        `json:"round_id" gorm:"not null;uniqueIndex:idx_round_user_field"`
	UserID       uint        `json:"user_id" gorm:"not null;uniqueIndex:idx_round_user_field"`
	Field        AnswerField `json:"field" gorm:"size:50;not null;uniqueIndex:idx_round_user_field"`
	Value        string      `json:"value" gorm:"size:50"`
	ScoredPoints *int        `json:"scored_points"`
	SavedAt      time.Time   `json:"saved_at" gorm:"autoUpdateTime"`
	CreatedAt    time.Time   `json:"created_at"`

	// Relationships
	Round Round `json:"round,omitempty"`
	User  User  `json:"user,omitempty"`
}

// Points returns the scored points, treating unscored answers as zero.
func (a Answer) Points() int {
	if a.ScoredPoints == nil {
		return 0
	}
	return *a.ScoredPoints
}
