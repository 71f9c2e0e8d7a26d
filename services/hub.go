package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Outbound message kinds. The browser dispatches on Type: plain fragment
// swaps, delayed swaps for the reveal sequence, form disabling on round
// stop and a history refresh after scoring.
const (
	MessageHTML          = "html"
	MessageDeferHTML     = "defer-html"
	MessageRoundStopped  = "round-stopped"
	MessageUpdateHistory = "update-history"
)

// OutMessage is the envelope pushed to connected players. HTML is opaque
// pre-rendered content; Delay only applies to defer-html and is the
// offset in seconds from the round close.
type OutMessage struct {
	Type  string  `json:"type"`
	Delay float64 `json:"delay,omitempty"`
	HTML  string  `json:"html,omitempty"`
}

// PartyBroadcaster is what the session actor needs from the gateway:
// fan-out of one message to every connected client of a party.
type PartyBroadcaster interface {
	BroadcastToParty(partyID uint, message OutMessage)
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	store      PartyStore
	channels   ChannelLayer
}

type Client struct {
	hub      *Hub
	id       string
	socket   *websocket.Conn
	send     chan []byte
	partyID  uint
	userID   uint
	username string
}

func NewHub(store PartyStore, channels ChannelLayer) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		store:      store,
		channels:   channels,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("Client registered: %s for party %d (user %d: %s)", client.id, client.partyID, client.userID, client.username)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropClientLocked(client)
				log.Printf("Client unregistered: %s for party %d (user %d: %s)", client.id, client.partyID, client.userID, client.username)
			}
			h.mutex.Unlock()
		}
	}
}

// dropClientLocked removes a client and closes its send channel. The
// caller holds the write lock and has checked membership; map membership
// is what guarantees send is closed exactly once.
func (h *Hub) dropClientLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// BroadcastToParty sends a message to every client connected to a party.
// update-history is personalized: each client gets its own re-rendered
// answers history instead of a shared fragment. Rendering and store
// access happen outside the lock; the fan-out itself holds the write
// lock so slow clients can be dropped without racing other broadcasts.
func (h *Hub) BroadcastToParty(partyID uint, message OutMessage) {
	h.mutex.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.partyID == partyID {
			targets = append(targets, client)
		}
	}
	h.mutex.RUnlock()

	payloads := make(map[*Client][]byte, len(targets))
	for _, client := range targets {
		outgoing := message
		if message.Type == MessageUpdateHistory {
			rounds, err := h.store.AnswersForUser(context.Background(), partyID, client.userID)
			if err != nil {
				log.Printf("Error loading answer history for user %d in party %d: %v", client.userID, partyID, err)
				continue
			}
			outgoing.HTML = RenderUserHistory(rounds)
		}

		data, err := json.Marshal(outgoing)
		if err != nil {
			log.Printf("Error marshaling message for party %d: %v", partyID, err)
			return
		}
		payloads[client] = data
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client, data := range payloads {
		if _, ok := h.clients[client]; !ok {
			// Dropped by a concurrent broadcast or unregistered
			continue
		}

		select {
		case client.send <- data:
		default:
			h.dropClientLocked(client)
		}
	}
}

func (h *Hub) sendToClient(client *Client, message OutMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message for client %s: %v", client.id, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	select {
	case client.send <- data:
	default:
		h.dropClientLocked(client)
	}
}

// RegisterClient wires a freshly upgraded websocket connection into the
// hub and announces the player to the party's session actor: a join
// event on the per-party players channel, plus the party_started trigger
// when the party is not closed yet. The trigger is idempotent — the row
// lock makes concurrent triggers start the lifecycle exactly once.
func (h *Hub) RegisterClient(conn *websocket.Conn, partyID, userID uint, username string) *Client {
	client := &Client{
		hub:      h,
		id:       uuid.NewString(),
		socket:   conn,
		send:     make(chan []byte, 256),
		partyID:  partyID,
		userID:   userID,
		username: username,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	ctx := context.Background()
	err := h.channels.Send(ctx, PartyPlayersChannel(partyID), Event{
		Type:     EventPlayerJoined,
		PartyID:  partyID,
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		log.Printf("Error announcing join of user %d to party %d: %v", userID, partyID, err)
	}

	party, err := h.store.GetParty(ctx, partyID)
	if err != nil {
		log.Printf("Error loading party %d on connect: %v", partyID, err)
		return client
	}

	if party.IsOpen() {
		err := h.channels.Send(ctx, StateMachineChannel, Event{
			Type:    EventPartyStarted,
			PartyID: partyID,
		})
		if err != nil {
			log.Printf("Error triggering start of party %d: %v", partyID, err)
		}
	}

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// processSubmission handles one inbound answers-form submission for a
// connected player. Stale submissions (round no longer the open round)
// are silent no-ops. Valid and invalid values alike are upserted; field
// errors come back to the submitter only. A stop submission on an open
// round signals the session actor, which closes and scores the round.
func (h *Hub) processSubmission(ctx context.Context, partyID, userID uint, sub Submission) (*OutMessage, error) {
	round, err := h.store.CurrentRound(ctx, partyID)
	if errors.Is(err, ErrNoOpenRound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !round.IsOpen() || round.ID != sub.RoundID {
		// Stale client: a round-advance broadcast is on its way
		return nil, nil
	}

	validated := ValidateAnswers(round.Letter, sub.Values)
	if err := h.store.SaveUserAnswers(ctx, round.ID, userID, validated.Values); err != nil {
		return nil, err
	}

	if sub.Stop {
		err := h.channels.Send(ctx, PartyRoundChannel(partyID), Event{
			Type:    EventRoundStopped,
			PartyID: partyID,
			RoundID: round.ID,
			UserID:  userID,
		})
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	scores, err := h.store.PlayersScores(ctx, partyID)
	if err != nil {
		log.Printf("Error loading scores for party %d: %v", partyID, err)
	}

	return &OutMessage{
		Type: MessageHTML,
		HTML: RenderAnswersForm(round, scores, validated.Values, validated.Errors),
	}, nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var sub Submission
		if err := json.Unmarshal(message, &sub); err != nil {
			log.Printf("Error unmarshaling submission from user %d: %v", c.userID, err)
			continue
		}

		if sub.Form != AnswersFormID {
			// Not the answers form; ignore
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		reply, err := c.hub.processSubmission(ctx, c.partyID, c.userID, sub)
		cancel()
		if err != nil {
			log.Printf("Error processing submission from user %d in party %d: %v", c.userID, c.partyID, err)
			continue
		}
		if reply != nil {
			c.hub.sendToClient(c, *reply)
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}

		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}

	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}
