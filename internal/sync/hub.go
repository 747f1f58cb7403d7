package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/chat"
	"github.com/pairpad/pairpad/internal/document"
	"github.com/pairpad/pairpad/internal/presence"
	"github.com/pairpad/pairpad/internal/rooms"
	"github.com/pairpad/pairpad/internal/workspace"
)

var errMissingStore = errors.New("sync: state store is required")

// HubConfig describes the dependencies for the relay hub.
type HubConfig struct {
	Store      Store
	IDProvider workspace.IDProvider
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Hub manages the live relay room for each room code. A room's document is
// materialized lazily on the first connection for its code: persisted state
// is loaded and applied before any client traffic is relayed, and the
// migration/bootstrap pass runs before the room is handed out.
type Hub struct {
	store      Store
	idProvider workspace.IDProvider
	logger     *zap.Logger
	clock      func() time.Time

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs an empty hub over the given state store.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = workspace.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Hub{
		store:      cfg.Store,
		idProvider: idProvider,
		logger:     logger,
		clock:      clock,
		rooms:      make(map[string]*Room),
	}, nil
}

// Serve runs the connection lifecycle for one replica against the live room
// for a code. A room released between lookup and join is replaced by a fresh
// one and the join retried.
func (h *Hub) Serve(ctx context.Context, code rooms.RoomCode, conn *websocket.Conn, clientID string) error {
	client := NewClient(clientID, conn)
	for {
		room, err := h.Acquire(ctx, code)
		if err != nil {
			return err
		}
		if room.join(client) {
			room.serve(ctx, client)
			return nil
		}
	}
}

// Acquire returns the live room for a code, constructing it on first use.
func (h *Hub) Acquire(ctx context.Context, code rooms.RoomCode) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[code.String()]; ok {
		return room, nil
	}

	room, err := h.openRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	h.rooms[code.String()] = room
	return room, nil
}

func (h *Hub) openRoom(ctx context.Context, code rooms.RoomCode) (*Room, error) {
	session, err := h.loadSession(ctx, code)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.NewWorkspace(workspace.WorkspaceConfig{
		Session:    session,
		IDProvider: h.idProvider,
		Logger:     h.logger,
	})
	if err != nil {
		return nil, err
	}
	history, err := workspace.NewHistory(workspace.HistoryConfig{
		Workspace:  ws,
		Clock:      h.clock,
		IDProvider: h.idProvider,
	})
	if err != nil {
		return nil, err
	}
	chatLog, err := chat.NewLog(chat.LogConfig{Session: session, Clock: h.clock})
	if err != nil {
		return nil, err
	}

	room := &Room{
		code:      code,
		session:   session,
		workspace: ws,
		history:   history,
		chatLog:   chatLog,
		roster:    presence.NewRoster(),
		saver:     newSaver(code, session, h.store, h.logger),
		logger:    h.logger,
		clients:   make(map[*Client]struct{}),
	}
	room.onEmpty = func() { h.release(room) }

	// Local transactions (bootstrap, server-side appends) schedule a save
	// and wake every client pump; remote merges already do both inline.
	persistLocal := func(event document.ChangeEvent) {
		if event.Remote {
			return
		}
		room.saver.MarkDirty()
		room.kickAll()
	}
	session.Notifier().Subscribe(document.CollectionFiles, persistLocal)
	session.Notifier().Subscribe(document.CollectionChat, persistLocal)

	if err := ws.Bootstrap(); err != nil {
		// A failed bootstrap leaves an unmigrated but usable document;
		// editing availability wins over migration strictness.
		h.logger.Error("workspace bootstrap failed",
			zap.String("room_code", code.String()), zap.Error(err))
	}
	// Persist the loaded (and possibly migrated) state re-encoding.
	room.saver.MarkDirty()

	h.logger.Info("room materialized", zap.String("room_code", code.String()))
	return room, nil
}

// loadSession loads a room's persisted document state. A store outage or a
// corrupt blob degrades to an empty document rather than refusing the
// connection.
func (h *Hub) loadSession(ctx context.Context, code rooms.RoomCode) (*document.Session, error) {
	cfg := document.SessionConfig{Logger: h.logger, Clock: h.clock}

	state, err := h.store.LoadState(ctx, code)
	if err != nil {
		h.logger.Warn("room state load failed; starting empty",
			zap.String("room_code", code.String()), zap.Error(err))
		return document.NewSession(cfg)
	}
	if len(state) == 0 {
		return document.NewSession(cfg)
	}

	session, err := document.LoadSession(state, cfg)
	if err != nil {
		h.logger.Warn("room state corrupt; starting empty",
			zap.String("room_code", code.String()), zap.Error(err))
		return document.NewSession(cfg)
	}
	return session, nil
}

// release retires a room once its last client leaves. A replica may join
// between the empty check in leave and this point; the shutdown attempt
// re-checks occupancy under the locks and backs off when the room is live
// again or was already retired.
func (h *Hub) release(room *Room) {
	h.mu.Lock()
	if !room.shutdown() {
		h.mu.Unlock()
		return
	}
	if current, ok := h.rooms[room.code.String()]; ok && current == room {
		delete(h.rooms, room.code.String())
	}
	h.mu.Unlock()

	room.saver.Close()
	h.logger.Info("room released", zap.String("room_code", room.code.String()))
}

// Rooms returns the number of live rooms, for observability.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
