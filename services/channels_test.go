package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChannelLayerDeliversInOrder(t *testing.T) {
	layer := NewMemoryChannelLayer()
	ctx := context.Background()

	require.NoError(t, layer.Send(ctx, "ch", Event{Type: EventPlayerJoined, UserID: 1}))
	require.NoError(t, layer.Send(ctx, "ch", Event{Type: EventPlayerJoined, UserID: 2}))

	first, err := layer.Receive(ctx, "ch", time.Second)
	require.NoError(t, err)
	second, err := layer.Receive(ctx, "ch", time.Second)
	require.NoError(t, err)

	assert.Equal(t, uint(1), first.UserID)
	assert.Equal(t, uint(2), second.UserID)
	assert.False(t, first.SentAt.IsZero(), "Send stamps SentAt")
}

func TestMemoryChannelLayerReceiveTimesOut(t *testing.T) {
	layer := NewMemoryChannelLayer()

	start := time.Now()
	_, err := layer.Receive(context.Background(), "empty", 20*time.Millisecond)

	assert.ErrorIs(t, err, ErrReceiveTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryChannelLayerChannelsAreIndependent(t *testing.T) {
	layer := NewMemoryChannelLayer()
	ctx := context.Background()

	require.NoError(t, layer.Send(ctx, PartyPlayersChannel(1), Event{UserID: 7}))

	_, err := layer.Receive(ctx, PartyPlayersChannel(2), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiveTimeout)

	event, err := layer.Receive(ctx, PartyPlayersChannel(1), time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint(7), event.UserID)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "party_players_42", PartyPlayersChannel(42))
	assert.Equal(t, "party_round_42", PartyRoundChannel(42))
}
