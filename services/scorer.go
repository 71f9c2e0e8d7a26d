package services

import (
	"strings"

	"tutifruti/models"
)

// ScoreRound computes the points of every answer of a closed round.
//
// An answer is valid when it is non-empty and starts with the round's
// letter. Per field, valid answers sharing the same normalized value
// among k distinct players earn floor(100/k) points each; invalid
// answers score zero. The function mutates ScoredPoints in place and
// returns the same slice ready for a bulk persist.
//
// Pure and deterministic: running it twice over the same answers yields
// identical points.
func ScoreRound(letter string, answers []models.Answer) []models.Answer {
	grouped := make(map[models.AnswerField]map[string][]int)

	for i := range answers {
		answer := &answers[i]
		if !StartsWithLetter(answer.Value, letter) {
			zero := 0
			answer.ScoredPoints = &zero
			continue
		}

		value := normalizeValue(answer.Value)
		if grouped[answer.Field] == nil {
			grouped[answer.Field] = make(map[string][]int)
		}
		grouped[answer.Field][value] = append(grouped[answer.Field][value], i)
	}

	for _, values := range grouped {
		for _, indexes := range values {
			points := 100 / len(indexes)
			for _, i := range indexes {
				scored := points
				answers[i].ScoredPoints = &scored
			}
		}
	}

	return answers
}

func normalizeValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
