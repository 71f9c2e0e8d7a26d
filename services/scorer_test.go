package services

import (
	"testing"

	"tutifruti/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answer(id, userID uint, field models.AnswerField, value string) models.Answer {
	return models.Answer{ID: id, RoundID: 1, UserID: userID, Field: field, Value: value}
}

func TestScoreRoundSharedValuesSplitPoints(t *testing.T) {
	answers := []models.Answer{
		answer(1, 1, models.FieldAnimal, "Aguila"),
		answer(2, 2, models.FieldAnimal, "Aguila"),
		answer(3, 3, models.FieldAnimal, "Avestruz"),
	}

	scored := ScoreRound("A", answers)

	require.Len(t, scored, 3)
	assert.Equal(t, 50, scored[0].Points())
	assert.Equal(t, 50, scored[1].Points())
	assert.Equal(t, 100, scored[2].Points())
}

func TestScoreRoundNormalizesValues(t *testing.T) {
	answers := []models.Answer{
		answer(1, 1, models.FieldCity, "amsterdam"),
		answer(2, 2, models.FieldCity, " Amsterdam "),
		answer(3, 3, models.FieldCity, "AMSTERDAM"),
	}

	scored := ScoreRound("A", answers)

	for _, a := range scored {
		assert.Equal(t, 33, a.Points(), "floor(100/3) for %q", a.Value)
	}
}

func TestScoreRoundInvalidLetterScoresZero(t *testing.T) {
	answers := []models.Answer{
		answer(1, 1, models.FieldCity, "Madrid"),
		answer(2, 2, models.FieldCity, "Barcelona"),
		answer(3, 3, models.FieldCity, ""),
	}

	scored := ScoreRound("B", answers)

	require.NotNil(t, scored[0].ScoredPoints)
	assert.Equal(t, 0, scored[0].Points(), "wrong letter never scores")
	assert.Equal(t, 100, scored[1].Points())
	assert.Equal(t, 0, scored[2].Points(), "empty value never scores")
}

func TestScoreRoundSameValueAcrossFieldsDoesNotShare(t *testing.T) {
	answers := []models.Answer{
		answer(1, 1, models.FieldName, "Ana"),
		answer(2, 2, models.FieldCity, "Ana"),
	}

	scored := ScoreRound("A", answers)

	assert.Equal(t, 100, scored[0].Points())
	assert.Equal(t, 100, scored[1].Points())
}

func TestScoreRoundIsIdempotent(t *testing.T) {
	answers := []models.Answer{
		answer(1, 1, models.FieldThing, "Tijeras"),
		answer(2, 2, models.FieldThing, "tijeras"),
		answer(3, 3, models.FieldThing, "Tren"),
		answer(4, 4, models.FieldThing, "Mesa"),
	}

	first := ScoreRound("T", answers)
	firstPoints := make([]int, len(first))
	for i, a := range first {
		firstPoints[i] = a.Points()
	}

	second := ScoreRound("T", first)
	for i, a := range second {
		assert.Equal(t, firstPoints[i], a.Points())
	}
}
