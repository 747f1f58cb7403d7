package workspace

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/document"
)

// sequenceIDProvider issues deterministic ids so tests can reason about
// tie-breaks and record identity.
type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

func mustNewWorkspace(testContext *testing.T) *Workspace {
	testContext.Helper()
	session, err := document.NewSession(document.SessionConfig{
		Clock: func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		testContext.Fatalf("failed to build session: %v", err)
	}
	ws, err := NewWorkspace(WorkspaceConfig{
		Session:    session,
		IDProvider: &sequenceIDProvider{prefix: "file"},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build workspace: %v", err)
	}
	return ws
}

func mustFileName(testContext *testing.T, raw string) FileName {
	testContext.Helper()
	name, err := NewFileName(raw)
	if err != nil {
		testContext.Fatalf("failed to build file name %q: %v", raw, err)
	}
	return name
}

func mustCreate(testContext *testing.T, ws *Workspace, rawName, content string) FileID {
	testContext.Helper()
	name := mustFileName(testContext, rawName)
	id, err := ws.Create(name, LanguageForExtension(name), content)
	if err != nil {
		testContext.Fatalf("failed to create %q: %v", rawName, err)
	}
	return id
}

func TestCreateAndList(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)

	mustCreate(testContext, ws, "script.js", "console.log(1)")
	mustCreate(testContext, ws, "index.html", "<p>hi</p>")
	mustCreate(testContext, ws, "style.css", "")

	infos, err := ws.List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 3 {
		testContext.Fatalf("expected 3 files, got %d", len(infos))
	}

	// Sorted by name ascending.
	expectedOrder := []string{"index.html", "script.js", "style.css"}
	for position, expected := range expectedOrder {
		if infos[position].Name.String() != expected {
			testContext.Fatalf("position %d: expected %s, got %s", position, expected, infos[position].Name)
		}
	}
	if infos[0].Language != LanguageHTML {
		testContext.Fatalf("expected html language, got %s", infos[0].Language)
	}
}

func TestMaterializeContent(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)
	id := mustCreate(testContext, ws, "main.py", "print('x')")

	content, err := ws.MaterializeContent(id)
	if err != nil {
		testContext.Fatalf("failed to materialize content: %v", err)
	}
	if content != "print('x')" {
		testContext.Fatalf("unexpected content: %q", content)
	}
}

func TestContentHandleEditsReplicate(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)
	id := mustCreate(testContext, ws, "notes.txt", "hello")

	text, err := ws.Content(id)
	if err != nil {
		testContext.Fatalf("failed to get content handle: %v", err)
	}
	if err := text.Insert(text.Len(), " world"); err != nil {
		testContext.Fatalf("failed to insert: %v", err)
	}

	content, err := ws.MaterializeContent(id)
	if err != nil {
		testContext.Fatalf("failed to materialize content: %v", err)
	}
	if content != "hello world" {
		testContext.Fatalf("unexpected content: %q", content)
	}
}

func TestRenameRecomputesLanguage(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)
	id := mustCreate(testContext, ws, "script.js", "console.log(1)")

	if err := ws.Rename(id, mustFileName(testContext, "script.py")); err != nil {
		testContext.Fatalf("failed to rename: %v", err)
	}

	infos, err := ws.List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 1 {
		testContext.Fatalf("expected 1 file, got %d", len(infos))
	}
	if infos[0].Name.String() != "script.py" {
		testContext.Fatalf("unexpected name: %s", infos[0].Name)
	}
	if infos[0].Language != LanguagePython {
		testContext.Fatalf("expected python language after rename, got %s", infos[0].Language)
	}

	content, err := ws.MaterializeContent(id)
	if err != nil {
		testContext.Fatalf("failed to materialize content after rename: %v", err)
	}
	if content != "console.log(1)" {
		testContext.Fatalf("rename must preserve content, got %q", content)
	}
}

func TestRenameMissingFile(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)

	err := ws.Rename(FileID("missing"), mustFileName(testContext, "anything.txt"))
	if !errors.Is(err, ErrFileNotFound) {
		testContext.Fatalf("expected file not found, got %v", err)
	}
}

func TestDeleteRemovesRecord(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)
	keep := mustCreate(testContext, ws, "keep.txt", "")
	remove := mustCreate(testContext, ws, "remove.txt", "")

	if err := ws.Delete(remove); err != nil {
		testContext.Fatalf("failed to delete: %v", err)
	}

	infos, err := ws.List()
	if err != nil {
		testContext.Fatalf("failed to list files: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != keep {
		testContext.Fatalf("expected only %s to survive, got %#v", keep, infos)
	}

	if _, err := ws.MaterializeContent(remove); !errors.Is(err, ErrFileNotFound) {
		testContext.Fatalf("expected file not found for deleted file, got %v", err)
	}
}

func TestCreateNotifiesFilesObservers(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)

	notifications := 0
	ws.Session().Notifier().Subscribe(document.CollectionFiles, func(document.ChangeEvent) {
		notifications++
	})

	mustCreate(testContext, ws, "index.html", "")

	if notifications != 1 {
		testContext.Fatalf("expected one notification per create, got %d", notifications)
	}
}

func TestObserversSeeCompleteRecords(testContext *testing.T) {
	ws := mustNewWorkspace(testContext)

	var observed []FileInfo
	ws.Session().Notifier().Subscribe(document.CollectionFiles, func(document.ChangeEvent) {
		infos, err := ws.List()
		if err != nil {
			testContext.Errorf("failed to list files inside observer: %v", err)
			return
		}
		for _, info := range infos {
			if _, err := ws.MaterializeContent(info.ID); err != nil {
				testContext.Errorf("observer saw record %s without content: %v", info.ID, err)
			}
		}
		observed = infos
	})

	mustCreate(testContext, ws, "index.html", "<p>hi</p>")

	if len(observed) != 1 {
		testContext.Fatalf("expected the observer to see the committed record, got %#v", observed)
	}
	if observed[0].Name.String() != "index.html" || observed[0].Language != LanguageHTML {
		testContext.Fatalf("observer saw an incomplete record: %#v", observed[0])
	}
}
