package workspace

import (
	"errors"
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/pairpad/pairpad/internal/document"
)

const (
	fieldName     = "name"
	fieldLanguage = "language"
	fieldContent  = "content"

	txCreateFile = "workspace.create_file"
	txDeleteFile = "workspace.delete_file"
	txRenameFile = "workspace.rename_file"
)

var (
	errMissingSession    = errors.New("workspace: document session is required")
	errMissingIDProvider = errors.New("workspace: id provider is required")
)

// IDProvider issues globally unique identifiers for new file records.
type IDProvider interface {
	NewID() (string, error)
}

// WorkspaceConfig describes the dependencies for a replicated workspace.
type WorkspaceConfig struct {
	Session    *document.Session
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Workspace presents file-oriented operations over the shared document's
// files collection. Every mutation runs inside one document transaction so
// observers receive a single coalesced change notification.
type Workspace struct {
	session    *document.Session
	idProvider IDProvider
	logger     *zap.Logger
}

// NewWorkspace constructs a workspace bound to a document session.
func NewWorkspace(cfg WorkspaceConfig) (*Workspace, error) {
	if cfg.Session == nil {
		return nil, errMissingSession
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		session:    cfg.Session,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Session returns the underlying document session.
func (w *Workspace) Session() *document.Session {
	return w.session
}

// List resolves every live file record, sorted by name ascending using a
// locale-aware comparison. The result reflects the most recent transaction,
// including transactions merged from remote peers.
func (w *Workspace) List() ([]FileInfo, error) {
	records, err := w.session.Files().Values()
	if err != nil {
		return nil, fmt.Errorf("workspace: list files: %w", err)
	}

	infos := make([]FileInfo, 0, len(records))
	for rawID, value := range records {
		if value.Kind() != automerge.KindMap {
			continue
		}
		info, err := readFileInfo(rawID, value.Map())
		if err != nil {
			w.logger.Warn("skipping malformed file record",
				zap.String("file_id", rawID), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}

	collator := collate.New(language.Und)
	sort.Slice(infos, func(i, j int) bool {
		return collator.CompareString(infos[i].Name.String(), infos[j].Name.String()) < 0
	})
	return infos, nil
}

// Create inserts a new file record in one transaction and returns its id.
// Name uniqueness is not enforced here; concurrent creates with the same name
// coexist until the next bootstrap dedup pass.
func (w *Workspace) Create(name FileName, lang Language, initialContent string) (FileID, error) {
	rawID, err := w.idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("workspace: create file: %w", err)
	}
	id := FileID(rawID)

	err = w.session.Transact(txCreateFile, func(doc *automerge.Doc) error {
		return writeFileRecord(doc, id, name, lang, initialContent)
	}, document.CollectionFiles)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the record and releases its content text. Callers observing
// the deleted file as active are responsible for selecting a replacement.
func (w *Workspace) Delete(id FileID) error {
	return w.session.Transact(txDeleteFile, func(doc *automerge.Doc) error {
		return doc.Path(string(document.CollectionFiles)).Map().Delete(id.String())
	}, document.CollectionFiles)
}

// Rename updates the file name and recomputes its language from the new
// extension, in one transaction.
func (w *Workspace) Rename(id FileID, newName FileName) error {
	return w.session.Transact(txRenameFile, func(doc *automerge.Doc) error {
		record, err := fileRecord(doc, id)
		if err != nil {
			return err
		}
		if err := record.Set(fieldName, newName.String()); err != nil {
			return fmt.Errorf("workspace: rename %s: %w", id, err)
		}
		if err := record.Set(fieldLanguage, LanguageForExtension(newName).String()); err != nil {
			return fmt.Errorf("workspace: rename %s: %w", id, err)
		}
		return nil
	}, document.CollectionFiles)
}

// Content returns the live replicated text handle for a file. The handle is
// not a copy; callers may edit it directly and the edits merge concurrently.
func (w *Workspace) Content(id FileID) (*automerge.Text, error) {
	record, err := fileRecord(w.session.Doc(), id)
	if err != nil {
		return nil, err
	}
	value, err := record.Get(fieldContent)
	if err != nil {
		return nil, fmt.Errorf("workspace: content of %s: %w", id, err)
	}
	if value.Kind() != automerge.KindText {
		return nil, fmt.Errorf("%w: %s has no content text", ErrFileNotFound, id)
	}
	return value.Text(), nil
}

// MaterializeContent returns a point-in-time string copy of a file's content.
func (w *Workspace) MaterializeContent(id FileID) (string, error) {
	text, err := w.Content(id)
	if err != nil {
		return "", err
	}
	content, err := text.Get()
	if err != nil {
		return "", fmt.Errorf("workspace: materialize %s: %w", id, err)
	}
	return content, nil
}

func fileRecord(doc *automerge.Doc, id FileID) (*automerge.Map, error) {
	value, err := doc.Path(string(document.CollectionFiles)).Map().Get(id.String())
	if err != nil {
		return nil, fmt.Errorf("workspace: lookup %s: %w", id, err)
	}
	if value.Kind() != automerge.KindMap {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return value.Map(), nil
}

func writeFileRecord(doc *automerge.Doc, id FileID, name FileName, lang Language, content string) error {
	files := string(document.CollectionFiles)
	if err := doc.Path(files, id.String(), fieldName).Set(name.String()); err != nil {
		return fmt.Errorf("workspace: write record %s: %w", id, err)
	}
	if err := doc.Path(files, id.String(), fieldLanguage).Set(lang.String()); err != nil {
		return fmt.Errorf("workspace: write record %s: %w", id, err)
	}
	if err := doc.Path(files, id.String(), fieldContent).Set(automerge.NewText(content)); err != nil {
		return fmt.Errorf("workspace: write record %s: %w", id, err)
	}
	return nil
}

func readFileInfo(rawID string, record *automerge.Map) (FileInfo, error) {
	id, err := NewFileID(rawID)
	if err != nil {
		return FileInfo{}, err
	}
	nameValue, err := record.Get(fieldName)
	if err != nil {
		return FileInfo{}, err
	}
	if nameValue.Kind() != automerge.KindStr {
		return FileInfo{}, fmt.Errorf("%w: record %s has no name", ErrInvalidFileName, rawID)
	}
	name, err := NewFileName(nameValue.Str())
	if err != nil {
		return FileInfo{}, err
	}
	langValue, err := record.Get(fieldLanguage)
	if err != nil {
		return FileInfo{}, err
	}
	lang := LanguagePlainText
	if langValue.Kind() == automerge.KindStr {
		lang = Language(langValue.Str())
	}
	return FileInfo{ID: id, Name: name, Language: lang}, nil
}
