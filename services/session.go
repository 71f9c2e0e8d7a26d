package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tutifruti/models"
)

// SessionConfig bounds the session actor's cooperative waits. Defaults
// follow the game rules; tests shrink them.
type SessionConfig struct {
	// QuorumWait is the ceiling on waiting for min_players to join.
	QuorumWait time.Duration
	// StopWaitCycle is the length of one round-stop receive cycle. The
	// wait is retried cycle by cycle until the party's max round
	// duration elapses.
	StopWaitCycle time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		QuorumWait:    120 * time.Second,
		StopWaitCycle: 30 * time.Second,
	}
}

// Reveal timing: the first field shows 0.5s after the round closes, each
// following field 2s later, then the modal closes.
const (
	revealFirstDelay = 0.5
	revealStepDelay  = 2.0
)

// SessionManager spawns one PartySession per active party. The
// party_started trigger is idempotent: an in-process guard plus the row
// lock inside the session guarantee a single running actor per party,
// system-wide.
type SessionManager struct {
	store       PartyStore
	channels    ChannelLayer
	broadcaster PartyBroadcaster
	config      SessionConfig

	mutex  sync.Mutex
	active map[uint]bool
}

func NewSessionManager(store PartyStore, channels ChannelLayer, broadcaster PartyBroadcaster, config SessionConfig) *SessionManager {
	return &SessionManager{
		store:       store,
		channels:    channels,
		broadcaster: broadcaster,
		config:      config,
		active:      make(map[uint]bool),
	}
}

// Run consumes the well-known party_started channel until ctx is
// cancelled. Each event starts (or re-enters, for recovery) the party's
// session actor.
func (m *SessionManager) Run(ctx context.Context) {
	for {
		event, err := m.channels.Receive(ctx, StateMachineChannel, 5*time.Second)
		if errors.Is(err, ErrReceiveTimeout) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error receiving on %s: %v", StateMachineChannel, err)
			continue
		}

		if event.Type != EventPartyStarted {
			log.Printf("Ignoring unexpected event %s on %s", event.Type, StateMachineChannel)
			continue
		}

		m.StartParty(ctx, event.PartyID, event.ForceStart)
	}
}

// StartParty launches the session actor for a party unless one is
// already running in this process.
func (m *SessionManager) StartParty(ctx context.Context, partyID uint, force bool) {
	m.mutex.Lock()
	if m.active[partyID] {
		m.mutex.Unlock()
		log.Printf("Party %d already has a running session, skipping", partyID)
		return
	}
	m.active[partyID] = true
	m.mutex.Unlock()

	go func() {
		defer func() {
			m.mutex.Lock()
			delete(m.active, partyID)
			m.mutex.Unlock()
		}()

		session := &PartySession{
			store:       m.store,
			channels:    m.channels,
			broadcaster: m.broadcaster,
			config:      m.config,
			partyID:     partyID,
			force:       force,
		}
		if err := session.Run(ctx); err != nil {
			log.Printf("Party %d session ended with error: %v", partyID, err)
		}
	}()
}

// RecoverInterrupted re-triggers every party that was started but never
// closed, so a crashed process resumes its parties on restart. State is
// rebuilt from the persisted rounds and answers; the force flag bypasses
// the started_at lock filter.
func (m *SessionManager) RecoverInterrupted(ctx context.Context) error {
	partyIDs, err := m.store.PartiesToRecover(ctx)
	if err != nil {
		return err
	}

	for _, partyID := range partyIDs {
		log.Printf("Trying to start party %d after restart or crash", partyID)
		err := m.channels.Send(ctx, StateMachineChannel, Event{
			Type:       EventPartyStarted,
			PartyID:    partyID,
			ForceStart: true,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

type sessionPhase int

const (
	phaseWaitingForPlayers sessionPhase = iota
	phaseRoundOpen
	phaseRoundScoring
	phaseFinished
)

// sessionState is the full cross-step state of one party session. Step
// functions take it and return the next one; nothing else carries data
// between phases.
type sessionState struct {
	phase sessionPhase
	party *models.Party
	round *models.Round
}

// PartySession drives one party through its round-by-round lifecycle:
// quorum wait, a bounded sequence of timed rounds, scoring and the
// reveal broadcasts.
type PartySession struct {
	store       PartyStore
	channels    ChannelLayer
	broadcaster PartyBroadcaster
	config      SessionConfig
	partyID     uint
	force       bool
}

func (s *PartySession) Run(ctx context.Context) error {
	state := sessionState{phase: phaseWaitingForPlayers}

	for state.phase != phaseFinished {
		var err error
		state, err = s.step(ctx, state)
		if err != nil {
			return err
		}
	}

	log.Printf("Party %d session finished", s.partyID)
	return nil
}

func (s *PartySession) step(ctx context.Context, state sessionState) (sessionState, error) {
	switch state.phase {
	case phaseWaitingForPlayers:
		return s.waitForPlayers(ctx, state)
	case phaseRoundOpen:
		return s.openRound(ctx, state)
	case phaseRoundScoring:
		return s.scoreRound(ctx, state)
	default:
		return state, fmt.Errorf("party %d session in unknown phase %d", s.partyID, state.phase)
	}
}

// waitForPlayers acquires exclusive ownership of the party and waits for
// the join quorum. The lock uses skip-if-locked semantics: losing a
// concurrent start race is a silent no-op. Recovery re-enters started
// parties through the force flag.
func (s *PartySession) waitForPlayers(ctx context.Context, state sessionState) (sessionState, error) {
	party, acquired, err := s.store.StartPartyExclusive(ctx, s.partyID, func(party *models.Party) ([]uint, error) {
		return s.waitQuorum(ctx, party)
	})
	if err != nil {
		return state, err
	}

	if party == nil {
		if !acquired && s.force {
			// Recovery path: the party already started before the
			// crash; resume from the persisted rounds
			party, err = s.store.GetParty(ctx, s.partyID)
			if err != nil {
				return state, err
			}
			if party.IsStarted() && party.IsOpen() {
				log.Printf("Resuming interrupted party %d", s.partyID)
				return sessionState{phase: phaseRoundOpen, party: party}, nil
			}
		}
		// Lock skipped, or quorum wait ended with zero joins
		log.Printf("Party %d not started by this session", s.partyID)
		return sessionState{phase: phaseFinished}, nil
	}

	log.Printf("Party %d started with %d players", s.partyID, len(party.JoinedUsers))
	return sessionState{phase: phaseRoundOpen, party: party}, nil
}

// waitQuorum collects distinct player_joined events until min_players is
// reached or the quorum ceiling elapses. Each join broadcasts a waiting
// status update to the whole party.
func (s *PartySession) waitQuorum(ctx context.Context, party *models.Party) ([]uint, error) {
	deadline := time.Now().Add(s.config.QuorumWait)
	joined := make([]uint, 0, party.MinPlayers)
	seen := make(map[uint]bool)

	log.Printf("Party %d waiting for %d players to join", party.ID, party.MinPlayers)

	for len(joined) < party.MinPlayers {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Printf("Party %d timed out waiting for players (%d joined)", party.ID, len(joined))
			break
		}

		event, err := s.channels.Receive(ctx, PartyPlayersChannel(party.ID), remaining)
		if errors.Is(err, ErrReceiveTimeout) {
			log.Printf("Party %d timed out waiting for players (%d joined)", party.ID, len(joined))
			break
		}
		if err != nil {
			return nil, err
		}

		if event.Type != EventPlayerJoined || seen[event.UserID] {
			continue
		}
		seen[event.UserID] = true
		joined = append(joined, event.UserID)
		log.Printf("Player %d (%s) joined party %d (%d/%d)", event.UserID, event.Username, party.ID, len(joined), party.MinPlayers)

		s.broadcaster.BroadcastToParty(party.ID, OutMessage{
			Type: MessageHTML,
			HTML: RenderWaitingStatus(len(joined), party.MinPlayers),
		})
	}

	return joined, nil
}

// openRound obtains or creates the current round, broadcasts it and
// waits for the stop signal. When all rounds are already scored the
// party closes instead.
func (s *PartySession) openRound(ctx context.Context, state sessionState) (sessionState, error) {
	completed, err := s.store.ClosedRoundCount(ctx, s.partyID)
	if err != nil {
		return state, err
	}
	if completed >= state.party.MaxRounds {
		if err := s.store.CloseParty(ctx, s.partyID); err != nil {
			return state, err
		}
		log.Printf("Party %d finished after %d rounds", s.partyID, completed)
		return sessionState{phase: phaseFinished}, nil
	}

	round, err := s.store.CurrentOrNextRound(ctx, s.partyID)
	if err != nil {
		// ErrNoUnusedLetters is fatal for the session; unreachable
		// while max_rounds <= 26 holds
		return state, err
	}

	scores, err := s.store.PlayersScores(ctx, s.partyID)
	if err != nil {
		return state, err
	}

	log.Printf("Party %d round %d open with letter %s", s.partyID, round.ID, round.Letter)
	s.broadcaster.BroadcastToParty(s.partyID, OutMessage{
		Type: MessageHTML,
		HTML: RenderRoundContent(round, scores),
	})

	if err := s.waitForStop(ctx, state.party, round); err != nil {
		return state, err
	}

	return sessionState{phase: phaseRoundScoring, party: state.party, round: round}, nil
}

// waitForStop blocks until a player stops the round or the party's max
// round duration elapses. Both endings broadcast round-stopped so the
// forms disable either way. The wait runs in fixed receive cycles; stop
// events carrying a stale round id are discarded, which gives the stop
// race exactly one winner.
func (s *PartySession) waitForStop(ctx context.Context, party *models.Party, round *models.Round) error {
	deadline := time.Now().Add(time.Duration(party.MaxRoundDuration) * time.Second)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			log.Printf("Party %d round %d hit its duration limit", party.ID, round.ID)
			s.broadcaster.BroadcastToParty(party.ID, OutMessage{Type: MessageRoundStopped})
			return nil
		}

		cycle := s.config.StopWaitCycle
		if remaining < cycle {
			cycle = remaining
		}

		event, err := s.channels.Receive(ctx, PartyRoundChannel(party.ID), cycle)
		if errors.Is(err, ErrReceiveTimeout) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Party %d round %d still open, waiting for stop", party.ID, round.ID)
			continue
		}
		if err != nil {
			return err
		}

		if event.Type != EventRoundStopped || event.RoundID != round.ID {
			log.Printf("Party %d ignoring stale stop event for round %d", party.ID, event.RoundID)
			continue
		}

		log.Printf("Party %d round %d stopped by user %d", party.ID, round.ID, event.UserID)
		s.broadcaster.BroadcastToParty(party.ID, OutMessage{Type: MessageRoundStopped})
		return nil
	}
}

// scoreRound closes the current round exactly once, scores it, persists
// the points and plays the staggered reveal sequence, followed by the
// refreshed scoreboard and each player's answer history.
func (s *PartySession) scoreRound(ctx context.Context, state sessionState) (sessionState, error) {
	round := state.round

	if err := s.store.CloseRound(ctx, round.ID); err != nil {
		return state, err
	}

	answers, err := s.store.AnswersForRound(ctx, round.ID)
	if err != nil {
		return state, err
	}

	scored := ScoreRound(round.Letter, answers)
	if err := s.store.SaveScores(ctx, scored); err != nil {
		return state, err
	}

	for _, message := range BuildRevealSequence(scored) {
		s.broadcaster.BroadcastToParty(s.partyID, message)
	}

	scores, err := s.store.PlayersScores(ctx, s.partyID)
	if err != nil {
		return state, err
	}
	s.broadcaster.BroadcastToParty(s.partyID, OutMessage{
		Type: MessageHTML,
		HTML: RenderScoreboard(scores),
	})
	s.broadcaster.BroadcastToParty(s.partyID, OutMessage{Type: MessageUpdateHistory})

	log.Printf("Party %d round %d scored (%d answers)", s.partyID, round.ID, len(scored))
	return sessionState{phase: phaseRoundOpen, party: state.party}, nil
}

// BuildRevealSequence builds the ordered post-round broadcast: one
// defer-html message per field in the fixed field order with offsets
// 0.5s, 2.5s, 4.5s..., then a final message closing the reveal modal.
// The order and timing are a UX contract.
func BuildRevealSequence(answers []models.Answer) []OutMessage {
	grouped := make(map[models.AnswerField][]models.Answer)
	for _, answer := range answers {
		grouped[answer.Field] = append(grouped[answer.Field], answer)
	}

	messages := make([]OutMessage, 0, len(models.AnswerFields)+1)
	delay := revealFirstDelay
	for _, field := range models.AnswerFields {
		messages = append(messages, OutMessage{
			Type:  MessageDeferHTML,
			Delay: delay,
			HTML:  RenderFieldReveal(field, grouped[field]),
		})
		delay += revealStepDelay
	}

	messages = append(messages, OutMessage{
		Type:  MessageDeferHTML,
		Delay: delay,
		HTML:  RenderRevealClose(),
	})

	return messages
}
