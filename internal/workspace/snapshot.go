package workspace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/pairpad/pairpad/internal/document"
)

const txRestoreSnapshot = "workspace.restore_snapshot"

// ErrRestoreNotConfirmed indicates a restore was attempted without the
// explicit confirmation a destructive replacement requires.
var ErrRestoreNotConfirmed = errors.New("workspace: restore requires confirmation")

// Snapshot is a fully materialized point-in-time copy of every live file.
// It holds no references into the live document and is unaffected by
// subsequent edits.
type Snapshot struct {
	ID         string
	Label      string
	CapturedAt time.Time
	Files      []FileSnapshot
}

// HistoryConfig describes the dependencies for a snapshot history.
type HistoryConfig struct {
	Workspace  *Workspace
	Clock      func() time.Time
	IDProvider IDProvider
}

// History keeps session-local snapshots, most recent first. Snapshots are
// never replicated or persisted; they live only as long as the session.
type History struct {
	workspace  *Workspace
	clock      func() time.Time
	idProvider IDProvider

	mu        sync.Mutex
	snapshots []Snapshot
}

// NewHistory constructs an empty snapshot history over a workspace.
func NewHistory(cfg HistoryConfig) (*History, error) {
	if cfg.Workspace == nil {
		return nil, errMissingSession
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &History{
		workspace:  cfg.Workspace,
		clock:      clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// Capture materializes every live file into a new snapshot and prepends it to
// the history. The live document is not mutated.
func (h *History) Capture(label string) (Snapshot, error) {
	infos, err := h.workspace.List()
	if err != nil {
		return Snapshot{}, fmt.Errorf("workspace: capture snapshot: %w", err)
	}

	files := make([]FileSnapshot, 0, len(infos))
	for _, info := range infos {
		content, err := h.workspace.MaterializeContent(info.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("workspace: capture snapshot: %w", err)
		}
		files = append(files, FileSnapshot{
			ID:       info.ID,
			Name:     info.Name,
			Language: info.Language,
			Content:  content,
		})
	}

	id, err := h.idProvider.NewID()
	if err != nil {
		return Snapshot{}, fmt.Errorf("workspace: capture snapshot: %w", err)
	}
	snapshot := Snapshot{
		ID:         id,
		Label:      label,
		CapturedAt: h.clock(),
		Files:      files,
	}

	h.mu.Lock()
	h.snapshots = append([]Snapshot{snapshot}, h.snapshots...)
	h.mu.Unlock()
	return snapshot, nil
}

// Snapshots returns a copy of the history, most recent first.
func (h *History) Snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Snapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}

// Restore replaces the live file set with the snapshot's, exactly: snapshot
// files are written back (clear-then-insert content so the result matches the
// capture regardless of intervening edits) and every live file absent from
// the snapshot is deleted. The whole replacement is one transaction.
// confirmed must be true; restore is destructive and the caller owns the
// confirmation prompt. A false value performs no mutation.
func (h *History) Restore(snapshot Snapshot, confirmed bool) error {
	if !confirmed {
		return ErrRestoreNotConfirmed
	}

	return h.workspace.session.Transact(txRestoreSnapshot, func(doc *automerge.Doc) error {
		filesMap := doc.Path(string(document.CollectionFiles)).Map()

		wanted := make(map[string]struct{}, len(snapshot.Files))
		for _, file := range snapshot.Files {
			wanted[file.ID.String()] = struct{}{}
			if err := restoreFile(doc, file); err != nil {
				return err
			}
		}

		keys, err := filesMap.Keys()
		if err != nil {
			return fmt.Errorf("workspace: restore snapshot: %w", err)
		}
		for _, key := range keys {
			if _, keep := wanted[key]; keep {
				continue
			}
			if err := filesMap.Delete(key); err != nil {
				return fmt.Errorf("workspace: restore snapshot: %w", err)
			}
		}
		return nil
	}, document.CollectionFiles)
}

func restoreFile(doc *automerge.Doc, file FileSnapshot) error {
	present, err := recordExists(doc, file.ID)
	if err != nil {
		return err
	}
	if !present {
		return writeFileRecord(doc, file.ID, file.Name, file.Language, file.Content)
	}

	record, err := fileRecord(doc, file.ID)
	if err != nil {
		return err
	}
	if err := record.Set(fieldName, file.Name.String()); err != nil {
		return fmt.Errorf("workspace: restore %s: %w", file.ID, err)
	}
	if err := record.Set(fieldLanguage, file.Language.String()); err != nil {
		return fmt.Errorf("workspace: restore %s: %w", file.ID, err)
	}

	contentValue, err := record.Get(fieldContent)
	if err != nil {
		return fmt.Errorf("workspace: restore %s: %w", file.ID, err)
	}
	if contentValue.Kind() != automerge.KindText {
		files := string(document.CollectionFiles)
		if err := doc.Path(files, file.ID.String(), fieldContent).Set(automerge.NewText(file.Content)); err != nil {
			return fmt.Errorf("workspace: restore %s: %w", file.ID, err)
		}
		return nil
	}

	text := contentValue.Text()
	if length := text.Len(); length > 0 {
		if err := text.Delete(0, length); err != nil {
			return fmt.Errorf("workspace: restore %s: %w", file.ID, err)
		}
	}
	if file.Content != "" {
		if err := text.Insert(0, file.Content); err != nil {
			return fmt.Errorf("workspace: restore %s: %w", file.ID, err)
		}
	}
	return nil
}
