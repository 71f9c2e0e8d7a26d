package services

import (
	"html/template"
	"log"
	"strings"

	"tutifruti/models"
)

// The core pushes pre-rendered HTML fragments to clients; the fragments
// are opaque strings from the gateway's perspective. Templates live here
// so the session actor and the hub share one rendering path.

var fragmentTemplates = template.Must(template.New("fragments").Parse(`
{{define "waiting_status"}}<div id="party_content">Esperando más jugadores... Actualmente hay {{.Joined}} de {{.MinPlayers}} jugadores</div>{{end}}

{{define "round_content"}}<div id="party_content"><h2>Ronda con la letra {{.Round.Letter}}</h2><ul id="players_scores">{{range .Scores}}<li>{{.Username}}: {{.Points}}</li>{{end}}</ul><form id="party_answers_form" data-round-id="{{.Round.ID}}">{{range .Fields}}<div class="word_column{{if .Error}} word-error{{end}}"><label>{{.Label}}</label><input class="input-answer" name="{{.Name}}" value="{{.Value}}" placeholder="{{$.Round.Letter}}">{{if .Error}}<span class="error">{{.Error}}</span>{{end}}</div>{{end}}<button name="stop" value="true">STOP</button></form></div>{{end}}

{{define "field_reveal"}}<dialog id="all_answers_modal" open><h3>{{.Label}}</h3><ul>{{range .Entries}}<li>{{.Username}}: {{.Value}} ({{.Points}} puntos)</li>{{end}}</ul></dialog>{{end}}

{{define "reveal_close"}}<dialog id="all_answers_modal"></dialog>{{end}}

{{define "scoreboard"}}<ul id="players_scores">{{range .}}<li>{{.Username}}: {{.Points}}</li>{{end}}</ul>{{end}}

{{define "user_history"}}<div id="party_answers">{{range .}}<section><h4>Ronda {{.Round.Letter}}</h4><ul>{{range .Answers}}<li>{{.Field}}: {{.Value}} ({{.Points}} puntos)</li>{{end}}</ul></section>{{end}}</div>{{end}}
`))

type formField struct {
	Name  string
	Label string
	Value string
	Error string
}

type revealEntry struct {
	Username string
	Value    string
	Points   int
}

func renderFragment(name string, data interface{}) string {
	var sb strings.Builder
	if err := fragmentTemplates.ExecuteTemplate(&sb, name, data); err != nil {
		log.Printf("Error rendering fragment %s: %v", name, err)
		return ""
	}
	return sb.String()
}

// RenderWaitingStatus renders the join-quorum progress fragment.
func RenderWaitingStatus(joined, minPlayers int) string {
	return renderFragment("waiting_status", map[string]int{
		"Joined":     joined,
		"MinPlayers": minPlayers,
	})
}

// RenderRoundContent renders the open round: letter, scoreboard and a
// fresh answers form.
func RenderRoundContent(round *models.Round, scores []PlayerScore) string {
	return RenderAnswersForm(round, scores, nil, nil)
}

// RenderAnswersForm renders the answers form with the submitter's values
// and field errors filled in.
func RenderAnswersForm(round *models.Round, scores []PlayerScore, values map[models.AnswerField]string, errors map[models.AnswerField]string) string {
	fields := make([]formField, 0, len(models.AnswerFields))
	for _, field := range models.AnswerFields {
		fields = append(fields, formField{
			Name:  string(field),
			Label: models.FieldLabels[field],
			Value: values[field],
			Error: errors[field],
		})
	}

	return renderFragment("round_content", map[string]interface{}{
		"Round":  round,
		"Scores": scores,
		"Fields": fields,
	})
}

// RenderFieldReveal renders the reveal modal for one field.
func RenderFieldReveal(field models.AnswerField, answers []models.Answer) string {
	entries := make([]revealEntry, 0, len(answers))
	for _, answer := range answers {
		entries = append(entries, revealEntry{
			Username: answer.User.Username,
			Value:    answer.Value,
			Points:   answer.Points(),
		})
	}

	return renderFragment("field_reveal", map[string]interface{}{
		"Label":   models.FieldLabels[field],
		"Entries": entries,
	})
}

// RenderRevealClose renders the closed reveal modal.
func RenderRevealClose() string {
	return renderFragment("reveal_close", nil)
}

// RenderScoreboard renders the cumulative party scoreboard.
func RenderScoreboard(scores []PlayerScore) string {
	return renderFragment("scoreboard", scores)
}

// RenderUserHistory renders one player's answers across all rounds.
func RenderUserHistory(rounds []RoundAnswers) string {
	return renderFragment("user_history", rounds)
}
