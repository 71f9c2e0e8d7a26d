package services

import (
	"testing"

	"tutifruti/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAnswersWrongLetterKeepsValue(t *testing.T) {
	result := ValidateAnswers("B", map[string]string{
		"city": "Madrid",
	})

	require.Contains(t, result.Values, models.FieldCity)
	assert.Equal(t, "Madrid", result.Values[models.FieldCity])
	assert.True(t, result.HasErrors())
	assert.Equal(t, "'Madrid' no empieza por 'B'", result.Errors[models.FieldCity])
}

func TestValidateAnswersMixedFields(t *testing.T) {
	result := ValidateAnswers("A", map[string]string{
		"name":    "Ana",
		"city":    "Madrid",
		"country": "argentina",
		"animal":  "",
	})

	assert.Len(t, result.Values, 4)
	assert.Len(t, result.Errors, 1, "only the wrong-letter field errors")
	assert.Contains(t, result.Errors, models.FieldCity)
}

func TestValidateAnswersEmptyValuesAreValid(t *testing.T) {
	result := ValidateAnswers("A", map[string]string{"name": ""})

	assert.False(t, result.HasErrors())
	assert.Contains(t, result.Values, models.FieldName)
}

func TestValidateAnswersIgnoresUnknownFields(t *testing.T) {
	result := ValidateAnswers("A", map[string]string{
		"name":     "Ana",
		"password": "hunter2",
	})

	assert.Len(t, result.Values, 1)
	assert.Contains(t, result.Values, models.FieldName)
}

func TestStartsWithLetter(t *testing.T) {
	assert.True(t, StartsWithLetter("Aguila", "A"))
	assert.True(t, StartsWithLetter("aguila", "A"))
	assert.True(t, StartsWithLetter("  Aguila", "a"))
	assert.False(t, StartsWithLetter("Madrid", "B"))
	assert.False(t, StartsWithLetter("", "B"))
	assert.False(t, StartsWithLetter("Madrid", ""))
}
