package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/chat"
	"github.com/pairpad/pairpad/internal/document"
	"github.com/pairpad/pairpad/internal/presence"
	"github.com/pairpad/pairpad/internal/rooms"
	"github.com/pairpad/pairpad/internal/workspace"
)

const (
	envelopePresence      = "presence"
	envelopePresenceLeave = "presence-leave"
	envelopeRoster        = "roster"

	syncPumpInterval = time.Second
)

// Envelope is the JSON frame carrying ephemeral awareness traffic alongside
// the binary document sync stream.
type Envelope struct {
	Type     string                    `json:"type"`
	ClientID string                    `json:"clientId,omitempty"`
	State    *presence.State           `json:"state,omitempty"`
	Roster   map[string]presence.State `json:"roster,omitempty"`
}

// Room relays document sync messages and awareness broadcasts between every
// replica connected under one room code. It owns the server-side document
// session for that code.
type Room struct {
	code      rooms.RoomCode
	session   *document.Session
	workspace *workspace.Workspace
	history   *workspace.History
	chatLog   *chat.Log
	roster    *presence.Roster
	saver     *saver
	logger    *zap.Logger
	onEmpty   func()

	mu      sync.Mutex
	closed  bool
	clients map[*Client]struct{}
}

// Code returns the room code this relay serves.
func (r *Room) Code() rooms.RoomCode {
	return r.code
}

// Session returns the server-side document session.
func (r *Room) Session() *document.Session {
	return r.session
}

// Workspace returns the file-system projection over the room's document.
func (r *Room) Workspace() *workspace.Workspace {
	return r.workspace
}

// History returns the room's snapshot history.
func (r *Room) History() *workspace.History {
	return r.history
}

// Chat returns the room's chat log.
func (r *Room) Chat() *chat.Log {
	return r.chatLog
}

// Roster returns the room's awareness roster.
func (r *Room) Roster() *presence.Roster {
	return r.roster
}

// serve runs the connection lifecycle for one joined replica: it sends the
// current awareness roster, exchanges document sync messages until the
// connection drops, and cleans up the replica's presence on the way out.
func (r *Room) serve(ctx context.Context, client *Client) {
	defer r.leave(client)

	if err := client.WriteJSON(Envelope{Type: envelopeRoster, Roster: r.roster.States()}); err != nil {
		r.logger.Debug("roster send failed", zap.String("client_id", client.ID()), zap.Error(err))
		return
	}

	state := automerge.NewSyncState(r.session.Doc())

	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	go r.pumpSync(pumpCtx, client, state)
	client.Kick()

	r.readLoop(client, state)
}

func (r *Room) readLoop(client *Client, state *automerge.SyncState) {
	for {
		messageType, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if _, err := state.ReceiveMessage(payload); err != nil {
				r.logger.Warn("sync message rejected",
					zap.String("room_code", r.code.String()),
					zap.String("client_id", client.ID()),
					zap.Error(err))
				return
			}
			r.session.NotifyRemote(document.CollectionFiles, document.CollectionChat)
			r.saver.MarkDirty()
			r.kickAll()
		case websocket.TextMessage:
			r.handleEnvelope(client, payload)
		}
	}
}

// pumpSync drains generated sync messages to one client, waking on kicks and
// on a periodic tick as a safety net.
func (r *Room) pumpSync(ctx context.Context, client *Client, state *automerge.SyncState) {
	ticker := time.NewTicker(syncPumpInterval)
	defer ticker.Stop()
	for {
		for {
			msg, valid := state.GenerateMessage()
			if !valid {
				break
			}
			if err := client.WriteBinary(msg.Bytes()); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-client.kick:
		case <-ticker.C:
		}
	}
}

func (r *Room) handleEnvelope(client *Client, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		r.logger.Debug("malformed awareness envelope",
			zap.String("client_id", client.ID()), zap.Error(err))
		return
	}
	if envelope.Type != envelopePresence || envelope.State == nil {
		return
	}
	// The server stamps the sender's id; a claimed id in the envelope is
	// ignored.
	r.roster.Set(client.ID(), *envelope.State)
	r.broadcast(client, Envelope{
		Type:     envelopePresence,
		ClientID: client.ID(),
		State:    envelope.State,
	})
}

// join registers a replica. It refuses once the room has been shut down, in
// which case the caller must materialize a fresh room for the code.
func (r *Room) join(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.clients[client] = struct{}{}
	return true
}

// shutdown marks the room closed so no further replica can join. It refuses
// when a replica joined after the room last looked empty, or when the room
// was already shut down.
func (r *Room) shutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.clients) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) leave(client *Client) {
	r.roster.Remove(client.ID())
	r.broadcast(client, Envelope{Type: envelopePresenceLeave, ClientID: client.ID()})

	r.mu.Lock()
	delete(r.clients, client)
	remaining := len(r.clients)
	r.mu.Unlock()

	if remaining == 0 && r.onEmpty != nil {
		r.onEmpty()
	}
}

func (r *Room) broadcast(sender *Client, envelope Envelope) {
	for _, client := range r.clientList() {
		if client == sender {
			continue
		}
		if err := client.WriteJSON(envelope); err != nil {
			r.logger.Debug("awareness broadcast failed",
				zap.String("client_id", client.ID()), zap.Error(err))
		}
	}
}

func (r *Room) kickAll() {
	for _, client := range r.clientList() {
		client.Kick()
	}
}

func (r *Room) clientList() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		list = append(list, client)
	}
	return list
}
