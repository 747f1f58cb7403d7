package document

import (
	"errors"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
)

func mustNewSession(testContext *testing.T) *Session {
	testContext.Helper()
	session, err := NewSession(SessionConfig{
		Clock: func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		testContext.Fatalf("failed to build session: %v", err)
	}
	return session
}

func TestTransactCommitsMutation(testContext *testing.T) {
	session := mustNewSession(testContext)

	err := session.Transact("set_greeting", func(doc *automerge.Doc) error {
		return doc.Path("greeting").Set("hello")
	})
	if err != nil {
		testContext.Fatalf("transaction failed: %v", err)
	}

	value, err := session.Doc().Path("greeting").Get()
	if err != nil {
		testContext.Fatalf("failed to read greeting: %v", err)
	}
	if value.Str() != "hello" {
		testContext.Fatalf("unexpected greeting: %q", value.Str())
	}
}

func TestTransactRequiresMutation(testContext *testing.T) {
	session := mustNewSession(testContext)

	if err := session.Transact("noop", nil); err == nil {
		testContext.Fatalf("expected error for nil mutation")
	}
}

func TestTransactPropagatesMutationError(testContext *testing.T) {
	session := mustNewSession(testContext)
	boom := errors.New("boom")

	err := session.Transact("explode", func(doc *automerge.Doc) error {
		return boom
	})
	if !errors.Is(err, boom) {
		testContext.Fatalf("expected wrapped mutation error, got %v", err)
	}
}

func TestTransactNotifiesTouchedCollections(testContext *testing.T) {
	session := mustNewSession(testContext)

	var filesEvents, chatEvents []ChangeEvent
	session.Notifier().Subscribe(CollectionFiles, func(event ChangeEvent) {
		filesEvents = append(filesEvents, event)
	})
	session.Notifier().Subscribe(CollectionChat, func(event ChangeEvent) {
		chatEvents = append(chatEvents, event)
	})

	err := session.Transact("touch_files", func(doc *automerge.Doc) error {
		return doc.Path(string(CollectionFiles), "f1", "name").Set("main.py")
	}, CollectionFiles)
	if err != nil {
		testContext.Fatalf("transaction failed: %v", err)
	}

	if len(filesEvents) != 1 {
		testContext.Fatalf("expected one files event, got %d", len(filesEvents))
	}
	if filesEvents[0].Message != "touch_files" {
		testContext.Fatalf("unexpected event message: %q", filesEvents[0].Message)
	}
	if filesEvents[0].Remote {
		testContext.Fatalf("local transaction should not be marked remote")
	}
	if len(chatEvents) != 0 {
		testContext.Fatalf("chat observer should not fire, got %d events", len(chatEvents))
	}
}

func TestNotifyRemoteMarksEvents(testContext *testing.T) {
	session := mustNewSession(testContext)

	var events []ChangeEvent
	session.Notifier().Subscribe(CollectionFiles, func(event ChangeEvent) {
		events = append(events, event)
	})

	session.NotifyRemote(CollectionFiles)

	if len(events) != 1 || !events[0].Remote {
		testContext.Fatalf("expected one remote event, got %#v", events)
	}
}

func TestSubscribeCancelStopsDelivery(testContext *testing.T) {
	notifier := NewNotifier()

	delivered := 0
	cancel := notifier.Subscribe(CollectionFiles, func(ChangeEvent) {
		delivered++
	})

	notifier.Notify(ChangeEvent{}, CollectionFiles)
	cancel()
	cancel()
	notifier.Notify(ChangeEvent{}, CollectionFiles)

	if delivered != 1 {
		testContext.Fatalf("expected exactly one delivery, got %d", delivered)
	}
}

func TestSaveAndLoadRoundTrip(testContext *testing.T) {
	session := mustNewSession(testContext)

	err := session.Transact("seed", func(doc *automerge.Doc) error {
		return doc.Path(string(CollectionFiles), "f1", "name").Set("index.html")
	}, CollectionFiles)
	if err != nil {
		testContext.Fatalf("transaction failed: %v", err)
	}

	restored, err := LoadSession(session.Save(), SessionConfig{})
	if err != nil {
		testContext.Fatalf("failed to load session: %v", err)
	}

	value, err := restored.Doc().Path(string(CollectionFiles), "f1", "name").Get()
	if err != nil {
		testContext.Fatalf("failed to read restored value: %v", err)
	}
	if value.Str() != "index.html" {
		testContext.Fatalf("unexpected restored value: %q", value.Str())
	}
}

func TestLoadSessionRejectsGarbage(testContext *testing.T) {
	if _, err := LoadSession([]byte("not a document"), SessionConfig{}); err == nil {
		testContext.Fatalf("expected load failure for corrupt state")
	}
}

func TestLegacyTextReadsSlot(testContext *testing.T) {
	session := mustNewSession(testContext)

	err := session.Transact("seed_legacy", func(doc *automerge.Doc) error {
		return doc.Path(string(LegacySlotPython)).Set(automerge.NewText("print(1)"))
	})
	if err != nil {
		testContext.Fatalf("transaction failed: %v", err)
	}

	content, err := session.LegacyText(LegacySlotPython)
	if err != nil {
		testContext.Fatalf("failed to read legacy slot: %v", err)
	}
	if content != "print(1)" {
		testContext.Fatalf("unexpected legacy content: %q", content)
	}

	empty, err := session.LegacyText(LegacySlotPHP)
	if err != nil {
		testContext.Fatalf("failed to read absent slot: %v", err)
	}
	if empty != "" {
		testContext.Fatalf("expected empty content for absent slot, got %q", empty)
	}
}
