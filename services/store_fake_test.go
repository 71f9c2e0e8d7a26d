package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tutifruti/models"
)

// fakePartyStore is an in-memory PartyStore for exercising the session
// actor and the gateway without a database. The start lock mirrors the
// skip-if-locked row lock with a per-party TryLock.
type fakePartyStore struct {
	mutex      sync.Mutex
	parties    map[uint]*models.Party
	rounds     map[uint]*models.Round
	answers    map[uint]*models.Answer
	usernames  map[uint]string
	startLocks map[uint]*sync.Mutex
	nextRound  uint
	nextAnswer uint
	startCalls int
}

func newFakePartyStore() *fakePartyStore {
	return &fakePartyStore{
		parties:    make(map[uint]*models.Party),
		rounds:     make(map[uint]*models.Round),
		answers:    make(map[uint]*models.Answer),
		usernames:  make(map[uint]string),
		startLocks: make(map[uint]*sync.Mutex),
	}
}

func (f *fakePartyStore) addParty(party *models.Party) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.parties[party.ID] = party
	f.startLocks[party.ID] = &sync.Mutex{}
}

func (f *fakePartyStore) addUser(id uint, username string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.usernames[id] = username
}

func (f *fakePartyStore) GetParty(ctx context.Context, partyID uint) (*models.Party, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	party, ok := f.parties[partyID]
	if !ok {
		return nil, ErrPartyNotFound
	}
	copied := *party
	return &copied, nil
}

func (f *fakePartyStore) StartPartyExclusive(ctx context.Context, partyID uint, wait func(party *models.Party) ([]uint, error)) (*models.Party, bool, error) {
	f.mutex.Lock()
	lock, ok := f.startLocks[partyID]
	if !ok {
		f.mutex.Unlock()
		return nil, false, ErrPartyNotFound
	}
	f.mutex.Unlock()

	if !lock.TryLock() {
		return nil, false, nil
	}
	defer lock.Unlock()

	f.mutex.Lock()
	party := f.parties[partyID]
	if party.StartedAt != nil {
		f.mutex.Unlock()
		return nil, false, nil
	}
	copied := *party
	f.mutex.Unlock()

	// The quorum wait blocks on channel receives; only the start lock is
	// held meanwhile, like the row lock in the real store
	joined, err := wait(&copied)
	if err != nil {
		return nil, true, err
	}
	if len(joined) == 0 {
		return nil, true, nil
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, userID := range joined {
		party.JoinedUsers = append(party.JoinedUsers, models.User{ID: userID, Username: f.usernames[userID]})
	}
	now := time.Now()
	party.StartedAt = &now
	f.startCalls++
	copied = *party
	return &copied, true, nil
}

func (f *fakePartyStore) CurrentOrNextRound(ctx context.Context, partyID uint) (*models.Round, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if round := f.openRoundLocked(partyID); round != nil {
		copied := *round
		return &copied, nil
	}

	var used []string
	for _, round := range f.rounds {
		if round.PartyID == partyID {
			used = append(used, round.Letter)
		}
	}

	letter, err := pickUnusedLetter(used)
	if err != nil {
		return nil, err
	}

	f.nextRound++
	round := &models.Round{
		ID:        f.nextRound,
		PartyID:   partyID,
		Letter:    letter,
		StartedAt: time.Now(),
	}
	f.rounds[round.ID] = round
	copied := *round
	return &copied, nil
}

func (f *fakePartyStore) openRoundLocked(partyID uint) *models.Round {
	var open *models.Round
	for _, round := range f.rounds {
		if round.PartyID == partyID && round.IsOpen() {
			if open != nil {
				panic(fmt.Sprintf("party %d has two open rounds", partyID))
			}
			open = round
		}
	}
	return open
}

func (f *fakePartyStore) CurrentRound(ctx context.Context, partyID uint) (*models.Round, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var latest *models.Round
	for _, round := range f.rounds {
		if round.PartyID != partyID {
			continue
		}
		if latest == nil || round.ID > latest.ID {
			latest = round
		}
	}
	if latest == nil {
		return nil, ErrNoOpenRound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakePartyStore) CloseRound(ctx context.Context, roundID uint) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	round, ok := f.rounds[roundID]
	if !ok {
		return ErrNoOpenRound
	}
	if round.ClosedAt == nil {
		now := time.Now()
		round.ClosedAt = &now
	}
	return nil
}

func (f *fakePartyStore) ClosedRoundCount(ctx context.Context, partyID uint) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	count := 0
	for _, round := range f.rounds {
		if round.PartyID == partyID && round.ClosedAt != nil {
			count++
		}
	}
	return count, nil
}

func (f *fakePartyStore) CloseParty(ctx context.Context, partyID uint) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	party, ok := f.parties[partyID]
	if !ok {
		return ErrPartyNotFound
	}
	if party.ClosedAt == nil {
		now := time.Now()
		party.ClosedAt = &now
	}
	return nil
}

func (f *fakePartyStore) SaveUserAnswers(ctx context.Context, roundID, userID uint, values map[models.AnswerField]string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for field, value := range values {
		var existing *models.Answer
		for _, answer := range f.answers {
			if answer.RoundID == roundID && answer.UserID == userID && answer.Field == field {
				existing = answer
				break
			}
		}
		if existing != nil {
			existing.Value = value
			existing.SavedAt = time.Now()
			continue
		}

		f.nextAnswer++
		f.answers[f.nextAnswer] = &models.Answer{
			ID:      f.nextAnswer,
			RoundID: roundID,
			UserID:  userID,
			Field:   field,
			Value:   value,
			SavedAt: time.Now(),
		}
	}
	return nil
}

func (f *fakePartyStore) AnswersForRound(ctx context.Context, roundID uint) ([]models.Answer, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var answers []models.Answer
	for _, answer := range f.answers {
		if answer.RoundID != roundID {
			continue
		}
		copied := *answer
		copied.User = models.User{ID: answer.UserID, Username: f.usernames[answer.UserID]}
		answers = append(answers, copied)
	}
	return answers, nil
}

func (f *fakePartyStore) SaveScores(ctx context.Context, answers []models.Answer) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for _, scored := range answers {
		if stored, ok := f.answers[scored.ID]; ok {
			stored.ScoredPoints = scored.ScoredPoints
		}
	}
	return nil
}

func (f *fakePartyStore) PlayersScores(ctx context.Context, partyID uint) ([]PlayerScore, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	party, ok := f.parties[partyID]
	if !ok {
		return nil, ErrPartyNotFound
	}

	partyRounds := make(map[uint]bool)
	for _, round := range f.rounds {
		if round.PartyID == partyID {
			partyRounds[round.ID] = true
		}
	}

	var scores []PlayerScore
	for _, user := range party.JoinedUsers {
		total := 0
		for _, answer := range f.answers {
			if partyRounds[answer.RoundID] && answer.UserID == user.ID {
				total += answer.Points()
			}
		}
		scores = append(scores, PlayerScore{UserID: user.ID, Username: user.Username, Points: total})
	}
	return scores, nil
}

func (f *fakePartyStore) AnswersForUser(ctx context.Context, partyID, userID uint) ([]RoundAnswers, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var grouped []RoundAnswers
	for _, round := range f.rounds {
		if round.PartyID != partyID {
			continue
		}
		entry := RoundAnswers{Round: *round}
		for _, answer := range f.answers {
			if answer.RoundID == round.ID && answer.UserID == userID {
				entry.Answers = append(entry.Answers, *answer)
			}
		}
		grouped = append(grouped, entry)
	}
	return grouped, nil
}

func (f *fakePartyStore) PartiesToRecover(ctx context.Context) ([]uint, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var ids []uint
	for id, party := range f.parties {
		if party.StartedAt != nil && party.ClosedAt == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakePartyStore) startCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.startCalls
}

// openRoundCount is a test helper checking the single-open-round
// invariant.
func (f *fakePartyStore) openRoundCount(partyID uint) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	count := 0
	for _, round := range f.rounds {
		if round.PartyID == partyID && round.IsOpen() {
			count++
		}
	}
	return count
}

func (f *fakePartyStore) roundLetters(partyID uint) []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var letters []string
	for _, round := range f.rounds {
		if round.PartyID == partyID {
			letters = append(letters, round.Letter)
		}
	}
	return letters
}

func (f *fakePartyStore) answersByUserField(roundID, userID uint, field models.AnswerField) []models.Answer {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var matched []models.Answer
	for _, answer := range f.answers {
		if answer.RoundID == roundID && answer.UserID == userID && answer.Field == field {
			matched = append(matched, *answer)
		}
	}
	return matched
}

// recordingBroadcaster captures everything the session actor broadcasts.
type recordingBroadcaster struct {
	mutex    sync.Mutex
	messages []OutMessage
}

func (b *recordingBroadcaster) BroadcastToParty(partyID uint, message OutMessage) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.messages = append(b.messages, message)
}

func (b *recordingBroadcaster) all() []OutMessage {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]OutMessage(nil), b.messages...)
}

func (b *recordingBroadcaster) countType(messageType string) int {
	count := 0
	for _, message := range b.all() {
		if message.Type == messageType {
			count++
		}
	}
	return count
}
