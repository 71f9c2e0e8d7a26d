package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateMachineChannel is the well-known process-wide topic the party
// state machine listens on. Party creation, player connections and the
// crash-recovery scan all push party_started events here.
const StateMachineChannel = "party-state-machine"

// ErrReceiveTimeout is returned by ChannelLayer.Receive when no event
// arrived within the given timeout. Callers treat it as control flow,
// not as a failure.
var ErrReceiveTimeout = errors.New("channel receive timed out")

type EventType string

const (
	EventPartyStarted EventType = "party_started"
	EventPlayerJoined EventType = "player_joined"
	EventRoundStopped EventType = "round_stopped"
)

// Event is the message envelope exchanged over named channels between
// the connection gateway and the party session actors.
type Event struct {
	Type       EventType `json:"type"`
	PartyID    uint      `json:"party_id"`
	RoundID    uint      `json:"round_id,omitempty"`
	UserID     uint      `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	ForceStart bool      `json:"force_start,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// PartyPlayersChannel is the per-party topic carrying player_joined events.
func PartyPlayersChannel(partyID uint) string {
	return fmt.Sprintf("party_players_%d", partyID)
}

// PartyRoundChannel is the per-party topic carrying round_stopped events.
func PartyRoundChannel(partyID uint) string {
	return fmt.Sprintf("party_round_%d", partyID)
}

// ChannelLayer is a named point-to-point transport with blocking receive.
// Exactly one receiver gets each sent event.
type ChannelLayer interface {
	Send(ctx context.Context, channel string, event Event) error
	Receive(ctx context.Context, channel string, timeout time.Duration) (Event, error)
}

// RedisChannelLayer implements ChannelLayer on Redis lists: LPUSH to
// send, BRPOP with timeout to receive. Surviving process restarts is the
// point — pending party_started events outlive a crash.
type RedisChannelLayer struct {
	client *redis.Client
}

func NewRedisChannelLayer(client *redis.Client) *RedisChannelLayer {
	return &RedisChannelLayer{client: client}
}

func (l *RedisChannelLayer) Send(ctx context.Context, channel string, event Event) error {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := l.client.LPush(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to %s: %w", channel, err)
	}

	// Stale per-party channels should not accumulate forever
	l.client.Expire(ctx, channel, time.Hour)

	return nil
}

func (l *RedisChannelLayer) Receive(ctx context.Context, channel string, timeout time.Duration) (Event, error) {
	result, err := l.client.BRPop(ctx, timeout, channel).Result()
	if err == redis.Nil {
		return Event{}, ErrReceiveTimeout
	}
	if err != nil {
		return Event{}, fmt.Errorf("failed to receive from %s: %w", channel, err)
	}

	// BRPOP returns [key, value]
	var event Event
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event from %s: %w", channel, err)
	}

	return event, nil
}

// MemoryChannelLayer is an in-process ChannelLayer used by tests.
type MemoryChannelLayer struct {
	mutex    sync.Mutex
	channels map[string]chan Event
}

func NewMemoryChannelLayer() *MemoryChannelLayer {
	return &MemoryChannelLayer{channels: make(map[string]chan Event)}
}

func (l *MemoryChannelLayer) channel(name string) chan Event {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	ch, ok := l.channels[name]
	if !ok {
		ch = make(chan Event, 64)
		l.channels[name] = ch
	}
	return ch
}

func (l *MemoryChannelLayer) Send(ctx context.Context, channel string, event Event) error {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now()
	}

	select {
	case l.channel(channel) <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MemoryChannelLayer) Receive(ctx context.Context, channel string, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-l.channel(channel):
		return event, nil
	case <-timer.C:
		return Event{}, ErrReceiveTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
