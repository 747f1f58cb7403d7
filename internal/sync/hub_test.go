package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/document"
	"github.com/pairpad/pairpad/internal/rooms"
	"github.com/pairpad/pairpad/internal/workspace"
)

func mustNewHub(testContext *testing.T, store Store) *Hub {
	testContext.Helper()
	hub, err := NewHub(HubConfig{
		Store:  store,
		Logger: zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build hub: %v", err)
	}
	return hub
}

func acquireRoom(testContext *testing.T, hub *Hub, code rooms.RoomCode) *Room {
	testContext.Helper()
	room, err := hub.Acquire(context.Background(), code)
	if err != nil {
		testContext.Fatalf("failed to acquire room: %v", err)
	}
	testContext.Cleanup(func() { hub.release(room) })
	return room
}

func TestAcquireMaterializesRoomOnce(testContext *testing.T) {
	hub := mustNewHub(testContext, newFakeStore())

	first := acquireRoom(testContext, hub, "roomcode")
	second, err := hub.Acquire(context.Background(), "roomcode")
	if err != nil {
		testContext.Fatalf("failed to re-acquire room: %v", err)
	}
	if first != second {
		testContext.Fatalf("expected the same live room for one code")
	}
	if hub.Rooms() != 1 {
		testContext.Fatalf("expected one live room, got %d", hub.Rooms())
	}
}

func TestAcquireBootstrapsEmptyRoom(testContext *testing.T) {
	hub := mustNewHub(testContext, newFakeStore())
	room := acquireRoom(testContext, hub, "roomcode")

	infos, err := room.Workspace().List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 3 {
		testContext.Fatalf("expected default project after bootstrap, got %d files", len(infos))
	}
}

func TestAcquireLoadsPersistedState(testContext *testing.T) {
	store := newFakeStore()

	seed := func() []byte {
		session, err := document.NewSession(document.SessionConfig{})
		if err != nil {
			testContext.Fatalf("failed to build seed session: %v", err)
		}
		err = session.Transact("seed", func(doc *automerge.Doc) error {
			if err := doc.Path("files", "f1", "name").Set("app.py"); err != nil {
				return err
			}
			if err := doc.Path("files", "f1", "language").Set("python"); err != nil {
				return err
			}
			return doc.Path("files", "f1", "content").Set(automerge.NewText("print(1)"))
		})
		if err != nil {
			testContext.Fatalf("failed to seed document: %v", err)
		}
		return session.Save()
	}
	store.states["roomcode"] = seed()

	hub := mustNewHub(testContext, store)
	room := acquireRoom(testContext, hub, "roomcode")

	infos, err := room.Workspace().List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 1 {
		testContext.Fatalf("expected only the persisted file, got %d files", len(infos))
	}
	if infos[0].Name.String() != "app.py" {
		testContext.Fatalf("unexpected file: %s", infos[0].Name)
	}
}

func TestAcquireDegradesOnCorruptState(testContext *testing.T) {
	store := newFakeStore()
	store.states["roomcode"] = []byte("definitely not a document")

	hub := mustNewHub(testContext, store)
	room := acquireRoom(testContext, hub, "roomcode")

	infos, err := room.Workspace().List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 3 {
		testContext.Fatalf("expected fresh default project, got %d files", len(infos))
	}
}

func TestAcquireDegradesOnStoreOutage(testContext *testing.T) {
	store := newFakeStore()
	store.loadErr = errors.New("store down")

	hub := mustNewHub(testContext, store)
	room := acquireRoom(testContext, hub, "roomcode")

	infos, err := room.Workspace().List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 3 {
		testContext.Fatalf("expected usable empty room despite outage, got %d files", len(infos))
	}
}

func TestLateJoinAfterReleaseGetsFreshRoom(testContext *testing.T) {
	store := newFakeStore()
	hub := mustNewHub(testContext, store)

	stale, err := hub.Acquire(context.Background(), "roomcode")
	if err != nil {
		testContext.Fatalf("failed to acquire room: %v", err)
	}
	first := NewClient("first", nil)
	if !stale.join(first) {
		testContext.Fatalf("expected join on a live room to succeed")
	}
	stale.leave(first)

	// A connection that looked up the room before the last client left now
	// tries to join the released room.
	if hub.Rooms() != 0 {
		testContext.Fatalf("expected the emptied room to be released, %d live", hub.Rooms())
	}
	if stale.join(NewClient("late", nil)) {
		testContext.Fatalf("expected a released room to refuse joins")
	}

	fresh := acquireRoom(testContext, hub, "roomcode")
	if fresh == stale {
		testContext.Fatalf("expected a fresh room after release")
	}
	late := NewClient("late", nil)
	if !fresh.join(late) {
		testContext.Fatalf("expected join on the fresh room to succeed")
	}
	testContext.Cleanup(func() { fresh.leave(late) })

	waitFor(testContext, "fresh room bootstrap to persist", func() bool {
		return store.storedState("roomcode") != nil
	})
	baseline := store.saveAttempts()
	name, err := workspace.NewFileName("late.py")
	if err != nil {
		testContext.Fatalf("failed to build file name: %v", err)
	}
	if _, err := fresh.Workspace().Create(name, workspace.LanguageForExtension(name), "print(1)"); err != nil {
		testContext.Fatalf("failed to create file: %v", err)
	}
	waitFor(testContext, "edit on the fresh room to persist", func() bool {
		return store.saveAttempts() > baseline
	})
}

func TestReleaseYieldsToOccupiedRoom(testContext *testing.T) {
	store := newFakeStore()
	hub := mustNewHub(testContext, store)

	room, err := hub.Acquire(context.Background(), "roomcode")
	if err != nil {
		testContext.Fatalf("failed to acquire room: %v", err)
	}
	occupant := NewClient("occupant", nil)
	if !room.join(occupant) {
		testContext.Fatalf("expected join on a live room to succeed")
	}

	// A stray release racing the join must leave the occupied room live.
	hub.release(room)
	if hub.Rooms() != 1 {
		testContext.Fatalf("expected the occupied room to stay registered, %d live", hub.Rooms())
	}

	waitFor(testContext, "bootstrap state to persist", func() bool {
		return store.storedState("roomcode") != nil
	})
	baseline := store.saveAttempts()
	name, err := workspace.NewFileName("alive.py")
	if err != nil {
		testContext.Fatalf("failed to build file name: %v", err)
	}
	if _, err := room.Workspace().Create(name, workspace.LanguageForExtension(name), "print(1)"); err != nil {
		testContext.Fatalf("failed to create file: %v", err)
	}
	waitFor(testContext, "edit on the occupied room to persist", func() bool {
		return store.saveAttempts() > baseline
	})

	room.leave(occupant)
	if hub.Rooms() != 0 {
		testContext.Fatalf("expected the emptied room to be released, %d live", hub.Rooms())
	}
	// A second release of the same room must be a no-op.
	hub.release(room)
}

func TestRoomCarriesChatAndSnapshotHistory(testContext *testing.T) {
	hub := mustNewHub(testContext, newFakeStore())
	room := acquireRoom(testContext, hub, "roomcode")

	if _, err := room.Chat().Append("ada", "shipping it", "#ff8800", ""); err != nil {
		testContext.Fatalf("failed to append chat message: %v", err)
	}
	messages, err := room.Chat().Messages()
	if err != nil {
		testContext.Fatalf("failed to read chat messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "shipping it" {
		testContext.Fatalf("unexpected chat log: %+v", messages)
	}

	if _, err := room.History().Capture("before refactor"); err != nil {
		testContext.Fatalf("failed to capture snapshot: %v", err)
	}
	if len(room.History().Snapshots()) != 1 {
		testContext.Fatalf("expected one snapshot, got %d", len(room.History().Snapshots()))
	}
}

func TestLocalTransactionsSchedulePersistence(testContext *testing.T) {
	store := newFakeStore()
	hub := mustNewHub(testContext, store)
	acquireRoom(testContext, hub, "roomcode")

	waitFor(testContext, "bootstrap state to persist", func() bool {
		return store.storedState("roomcode") != nil
	})

	restored, err := document.LoadSession(store.storedState("roomcode"), document.SessionConfig{})
	if err != nil {
		testContext.Fatalf("persisted state failed to load: %v", err)
	}
	keys, err := restored.Files().Keys()
	if err != nil {
		testContext.Fatalf("failed to read persisted files: %v", err)
	}
	if len(keys) != 3 {
		testContext.Fatalf("expected bootstrapped state persisted, got %d files", len(keys))
	}
}
