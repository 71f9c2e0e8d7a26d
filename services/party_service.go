package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"tutifruti/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNoUnusedLetters means a party ran out of round letters. Fatal
	// for the session: it cannot happen while MaxRounds stays <= 26.
	ErrNoUnusedLetters = errors.New("no unused letters remain for party")

	ErrPartyNotFound = errors.New("party not found")
	ErrNoOpenRound   = errors.New("party has no open round")
)

const letterAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// PlayerScore is one row of a party scoreboard.
type PlayerScore struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// RoundAnswers groups one round with a single player's answers in it,
// for the per-user history view.
type RoundAnswers struct {
	Round   models.Round    `json:"round"`
	Answers []models.Answer `json:"answers"`
}

// PartyStore is the persistence contract the session actor and the
// connection gateway consume. PartyService is the gorm implementation;
// tests substitute an in-memory fake.
type PartyStore interface {
	GetParty(ctx context.Context, partyID uint) (*models.Party, error)

	// StartPartyExclusive runs wait while holding a row lock on the
	// party, acquired with skip-if-locked semantics so concurrent
	// triggers start a party exactly once. wait receives the locked
	// party and returns the ids of the players that joined; when at
	// least one joined, the join set and started_at are persisted in
	// the same transaction. Returns (nil, false, nil) when the lock was
	// skipped or the party already started, and (nil, true, nil) when
	// the quorum wait ended with zero joined players.
	StartPartyExclusive(ctx context.Context, partyID uint, wait func(party *models.Party) ([]uint, error)) (*models.Party, bool, error)

	// CurrentOrNextRound returns the party's open round, creating one
	// with a random unused letter when none is open. Returns
	// ErrNoUnusedLetters when the alphabet is exhausted.
	CurrentOrNextRound(ctx context.Context, partyID uint) (*models.Round, error)

	// CurrentRound returns the party's latest round without creating
	// one, or ErrNoOpenRound when the party has none.
	CurrentRound(ctx context.Context, partyID uint) (*models.Round, error)

	CloseRound(ctx context.Context, roundID uint) error
	ClosedRoundCount(ctx context.Context, partyID uint) (int, error)
	CloseParty(ctx context.Context, partyID uint) error

	// SaveUserAnswers upserts one player's submitted values for a
	// round, keyed by (round, user, field). Last write wins.
	SaveUserAnswers(ctx context.Context, roundID, userID uint, values map[models.AnswerField]string) error

	AnswersForRound(ctx context.Context, roundID uint) ([]models.Answer, error)
	SaveScores(ctx context.Context, answers []models.Answer) error

	PlayersScores(ctx context.Context, partyID uint) ([]PlayerScore, error)
	AnswersForUser(ctx context.Context, partyID, userID uint) ([]RoundAnswers, error)

	// PartiesToRecover lists parties interrupted mid-game: started but
	// never closed. Used by the crash-recovery scan at boot.
	PartiesToRecover(ctx context.Context) ([]uint, error)
}

type PartyService struct {
	db *gorm.DB
}

func NewPartyService(db *gorm.DB) *PartyService {
	return &PartyService{db: db}
}

type CreatePartyRequest struct {
	Name             string `json:"name" binding:"required"`
	MinPlayers       int    `json:"min_players"`
	MaxRoundDuration int    `json:"max_round_duration"`
	MaxRounds        int    `json:"max_rounds"`
}

func (s *PartyService) CreateParty(req *CreatePartyRequest) (*models.Party, error) {
	if req.MinPlayers == 0 {
		req.MinPlayers = 2
	}
	if req.MaxRoundDuration == 0 {
		req.MaxRoundDuration = 120
	}
	if req.MaxRounds == 0 {
		req.MaxRounds = 3
	}

	if req.MinPlayers < 2 {
		return nil, errors.New("min_players must be at least 2")
	}
	if req.MaxRoundDuration < 30 {
		return nil, errors.New("max_round_duration must be at least 30 seconds")
	}
	if req.MaxRounds < 1 || req.MaxRounds > len(letterAlphabet) {
		return nil, fmt.Errorf("max_rounds must be between 1 and %d", len(letterAlphabet))
	}

	party := models.Party{
		Name:             req.Name,
		MinPlayers:       req.MinPlayers,
		MaxRoundDuration: req.MaxRoundDuration,
		MaxRounds:        req.MaxRounds,
	}

	if err := s.db.Create(&party).Error; err != nil {
		return nil, err
	}

	return &party, nil
}

// AvailableParties lists parties a user may enter: every open party plus
// closed ones the user played in, for history.
func (s *PartyService) AvailableParties(userID uint) ([]models.Party, error) {
	var parties []models.Party
	err := s.db.
		Distinct("parties.*").
		Joins("LEFT JOIN party_players ON party_players.party_id = parties.id").
		Where("parties.closed_at IS NULL OR party_players.user_id = ?", userID).
		Order("parties.id").
		Find(&parties).Error
	return parties, err
}

func (s *PartyService) GetParty(ctx context.Context, partyID uint) (*models.Party, error) {
	var party models.Party
	err := s.db.WithContext(ctx).Preload("JoinedUsers").First(&party, partyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPartyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &party, nil
}

func (s *PartyService) StartPartyExclusive(ctx context.Context, partyID uint, wait func(party *models.Party) ([]uint, error)) (*models.Party, bool, error) {
	var started *models.Party
	acquired := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var party models.Party
		result := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id = ? AND started_at IS NULL", partyID).
			Find(&party)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Locked by another actor or already started
			return nil
		}
		acquired = true

		joined, err := wait(&party)
		if err != nil {
			return err
		}
		if len(joined) == 0 {
			// Nobody joined: leave the party startable by a future
			// connection
			return nil
		}

		for _, userID := range joined {
			user := models.User{ID: userID}
			if err := tx.Model(&party).Association("JoinedUsers").Append(&user); err != nil {
				return err
			}
		}

		now := time.Now()
		if err := tx.Model(&party).Update("started_at", now).Error; err != nil {
			return err
		}
		party.StartedAt = &now
		started = &party
		return nil
	})
	if err != nil {
		return nil, acquired, err
	}

	return started, acquired, nil
}

func (s *PartyService) CurrentOrNextRound(ctx context.Context, partyID uint) (*models.Round, error) {
	db := s.db.WithContext(ctx)

	var latest models.Round
	result := db.
		Where("party_id = ?", partyID).
		Order("started_at DESC").
		Limit(1).
		Find(&latest)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 && latest.IsOpen() {
		return &latest, nil
	}

	var used []string
	if err := db.Model(&models.Round{}).
		Where("party_id = ?", partyID).
		Pluck("letter", &used).Error; err != nil {
		return nil, err
	}

	letter, err := pickUnusedLetter(used)
	if err != nil {
		return nil, err
	}

	round := models.Round{
		PartyID:   partyID,
		Letter:    letter,
		StartedAt: time.Now(),
	}
	if err := db.Create(&round).Error; err != nil {
		return nil, err
	}

	return &round, nil
}

func pickUnusedLetter(used []string) (string, error) {
	taken := make(map[string]bool, len(used))
	for _, letter := range used {
		taken[letter] = true
	}

	var unused []string
	for _, letter := range letterAlphabet {
		if !taken[string(letter)] {
			unused = append(unused, string(letter))
		}
	}
	if len(unused) == 0 {
		return "", ErrNoUnusedLetters
	}

	return unused[rand.Intn(len(unused))], nil
}

func (s *PartyService) CurrentRound(ctx context.Context, partyID uint) (*models.Round, error) {
	var round models.Round
	result := s.db.WithContext(ctx).
		Where("party_id = ?", partyID).
		Order("started_at DESC").
		Limit(1).
		Find(&round)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNoOpenRound
	}
	return &round, nil
}

func (s *PartyService) CloseRound(ctx context.Context, roundID uint) error {
	return s.db.WithContext(ctx).
		Model(&models.Round{}).
		Where("id = ? AND closed_at IS NULL", roundID).
		Update("closed_at", time.Now()).Error
}

func (s *PartyService) ClosedRoundCount(ctx context.Context, partyID uint) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Round{}).
		Where("party_id = ? AND closed_at IS NOT NULL", partyID).
		Count(&count).Error
	return int(count), err
}

func (s *PartyService) CloseParty(ctx context.Context, partyID uint) error {
	return s.db.WithContext(ctx).
		Model(&models.Party{}).
		Where("id = ? AND closed_at IS NULL", partyID).
		Update("closed_at", time.Now()).Error
}

func (s *PartyService) SaveUserAnswers(ctx context.Context, roundID, userID uint, values map[models.AnswerField]string) error {
	if len(values) == 0 {
		return nil
	}

	answers := make([]models.Answer, 0, len(values))
	for _, field := range models.AnswerFields {
		value, present := values[field]
		if !present {
			continue
		}
		answers = append(answers, models.Answer{
			RoundID: roundID,
			UserID:  userID,
			Field:   field,
			Value:   value,
			SavedAt: time.Now(),
		})
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "round_id"},
				{Name: "user_id"},
				{Name: "field"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"value", "saved_at"}),
		}).
		Create(&answers).Error
}

func (s *PartyService) AnswersForRound(ctx context.Context, roundID uint) ([]models.Answer, error) {
	var answers []models.Answer
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Preload("User").
		Order("user_id").
		Find(&answers).Error
	return answers, err
}

func (s *PartyService) SaveScores(ctx context.Context, answers []models.Answer) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, answer := range answers {
			err := tx.Model(&models.Answer{}).
				Where("id = ?", answer.ID).
				Update("scored_points", answer.ScoredPoints).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PartyService) PlayersScores(ctx context.Context, partyID uint) ([]PlayerScore, error) {
	var scores []PlayerScore
	err := s.db.WithContext(ctx).
		Table("users").
		Select("users.id AS user_id, users.username, COALESCE(SUM(answers.scored_points), 0) AS points").
		Joins("JOIN party_players ON party_players.user_id = users.id AND party_players.party_id = ?", partyID).
		Joins("LEFT JOIN rounds ON rounds.party_id = ?", partyID).
		Joins("LEFT JOIN answers ON answers.user_id = users.id AND answers.round_id = rounds.id").
		Group("users.id, users.username").
		Order("points DESC").
		Scan(&scores).Error
	return scores, err
}

func (s *PartyService) AnswersForUser(ctx context.Context, partyID, userID uint) ([]RoundAnswers, error) {
	var rounds []models.Round
	err := s.db.WithContext(ctx).
		Where("party_id = ?", partyID).
		Preload("Answers", "user_id = ?", userID).
		Order("started_at").
		Find(&rounds).Error
	if err != nil {
		return nil, err
	}

	grouped := make([]RoundAnswers, 0, len(rounds))
	for _, round := range rounds {
		answers := round.Answers
		round.Answers = nil
		grouped = append(grouped, RoundAnswers{Round: round, Answers: answers})
	}
	return grouped, nil
}

func (s *PartyService) PartiesToRecover(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.Party{}).
		Where("started_at IS NOT NULL AND closed_at IS NULL").
		Pluck("id", &ids).Error
	return ids, err
}
