package services

import (
	"fmt"
	"strings"
	"unicode"

	"tutifruti/models"
)

// AnswersFormID tags inbound websocket payloads that are answer form
// submissions. Anything else is ignored by the gateway.
const AnswersFormID = "party_answers_form"

// Submission is the inbound payload of the answers form.
type Submission struct {
	Form    string            `json:"form"`
	RoundID uint              `json:"round_id"`
	Values  map[string]string `json:"values"`
	Stop    bool              `json:"stop"`
}

// ValidatedSubmission holds every playable field present in a submission
// together with the per-field validation errors. Invalid values are kept:
// they get stored anyway and simply never score.
type ValidatedSubmission struct {
	Values map[models.AnswerField]string
	Errors map[models.AnswerField]string
}

func (v *ValidatedSubmission) HasErrors() bool {
	return len(v.Errors) > 0
}

// ValidateAnswers checks each playable field of a submission against the
// round's letter. Unknown keys are dropped; a non-empty value whose first
// character does not case-insensitively match the letter gets a field
// error but stays in Values.
func ValidateAnswers(letter string, values map[string]string) ValidatedSubmission {
	result := ValidatedSubmission{
		Values: make(map[models.AnswerField]string),
		Errors: make(map[models.AnswerField]string),
	}

	for _, field := range models.AnswerFields {
		value, present := values[string(field)]
		if !present {
			continue
		}

		result.Values[field] = value
		if value != "" && !StartsWithLetter(value, letter) {
			result.Errors[field] = fmt.Sprintf("'%s' no empieza por '%s'", value, letter)
		}
	}

	return result
}

// StartsWithLetter reports whether the first character of value matches
// letter, case-folded. Only the first character is compared.
func StartsWithLetter(value, letter string) bool {
	value = strings.TrimSpace(value)
	if value == "" || letter == "" {
		return false
	}

	first := []rune(value)[0]
	want := []rune(letter)[0]
	return unicode.ToLower(first) == unicode.ToLower(want)
}
