package workspace

import (
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/document"
)

const (
	txBootstrap = "workspace.bootstrap"

	indexFileName = "index.html"
)

// legacyMigration maps one per-language text slot onto its fixed file record.
type legacyMigration struct {
	slot document.LegacySlot
	id   FileID
	name FileName
	lang Language
}

var legacyMigrations = []legacyMigration{
	{slot: document.LegacySlotHTML, id: "legacy-index", name: "index.html", lang: LanguageHTML},
	{slot: document.LegacySlotCSS, id: "legacy-style", name: "style.css", lang: LanguageCSS},
	{slot: document.LegacySlotJS, id: "legacy-script", name: "script.js", lang: LanguageJavaScript},
	{slot: document.LegacySlotPython, id: "legacy-python", name: "main.py", lang: LanguagePython},
	{slot: document.LegacySlotPHP, id: "legacy-php", name: "index.php", lang: LanguagePHP},
}

const defaultIndexContent = `<!DOCTYPE html>
<html>
<head>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <h1>Welcome to PairPad</h1>
  <p>Check the console for a message!</p>
  <script src="script.js"></script>
</body>
</html>`

const (
	defaultStyleContent  = "body { font-family: sans-serif; padding: 20px; }"
	defaultScriptContent = `console.log("Hello from PairPad!");`

	scratchPythonContent = `print("Hello from Python!")`
	scratchPHPContent    = "<?php\n\necho \"Hello from PHP!\";"
)

type defaultFile struct {
	id   FileID
	name FileName
	lang Language
	body string
}

var defaultFiles = []defaultFile{
	{id: "default-index", name: "index.html", lang: LanguageHTML, body: defaultIndexContent},
	{id: "default-style", name: "style.css", lang: LanguageCSS, body: defaultStyleContent},
	{id: "default-script", name: "script.js", lang: LanguageJavaScript, body: defaultScriptContent},
}

// Bootstrap reconciles the files collection after the document is first
// observed ready. It deduplicates colliding names, migrates legacy
// per-language slots into file records, seeds a default project when the
// room is empty, and seeds the Python/PHP scratch slots. The whole pass runs
// in one transaction so peers observe either a fully migrated document or an
// untouched one, never an intermediate state. Running it twice yields the
// same file set as running it once.
func (w *Workspace) Bootstrap() error {
	return w.session.Transact(txBootstrap, func(doc *automerge.Doc) error {
		survivors, err := w.dedupPass(doc)
		if err != nil {
			return err
		}

		_, hasIndex := survivors[indexFileName]
		if len(survivors) == 0 && !hasIndex {
			if err := w.migrateOrSeed(doc); err != nil {
				return err
			}
		}

		return seedScratchSlots(doc)
	}, document.CollectionFiles)
}

// dedupPass deletes every live record whose name collides with another,
// keeping the record with the lexicographically lowest file id. The explicit
// tie-break makes independent replicas running the pass over the same record
// set converge on the same survivors. It returns surviving name -> id.
func (w *Workspace) dedupPass(doc *automerge.Doc) (map[string]FileID, error) {
	filesMap := doc.Path(string(document.CollectionFiles)).Map()
	keys, err := filesMap.Keys()
	if err != nil {
		return nil, fmt.Errorf("workspace: dedup pass: %w", err)
	}
	sort.Strings(keys)

	survivors := make(map[string]FileID)
	for _, key := range keys {
		value, err := filesMap.Get(key)
		if err != nil {
			return nil, fmt.Errorf("workspace: dedup pass: %w", err)
		}
		if value.Kind() != automerge.KindMap {
			continue
		}
		nameValue, err := value.Map().Get(fieldName)
		if err != nil {
			return nil, fmt.Errorf("workspace: dedup pass: %w", err)
		}
		if nameValue.Kind() != automerge.KindStr {
			continue
		}
		name := nameValue.Str()
		if survivor, duplicate := survivors[name]; duplicate {
			w.logger.Info("deleting duplicate file record",
				zap.String("file_name", name),
				zap.String("deleted_id", key),
				zap.String("surviving_id", survivor.String()))
			if err := filesMap.Delete(key); err != nil {
				return nil, fmt.Errorf("workspace: dedup pass: %w", err)
			}
			continue
		}
		survivors[name] = FileID(key)
	}
	return survivors, nil
}

// migrateOrSeed moves non-empty legacy slot content into fixed-id file
// records, preserving the content verbatim and leaving the slots untouched.
// When no legacy content exists it seeds the default three-file project.
func (w *Workspace) migrateOrSeed(doc *automerge.Doc) error {
	migrated := false
	for _, migration := range legacyMigrations {
		value, err := doc.Path(string(migration.slot)).Get()
		if err != nil {
			return fmt.Errorf("workspace: migrate slot %s: %w", migration.slot, err)
		}
		if value.Kind() != automerge.KindText {
			continue
		}
		content, err := value.Text().Get()
		if err != nil {
			return fmt.Errorf("workspace: migrate slot %s: %w", migration.slot, err)
		}
		if content == "" {
			continue
		}
		migrated = true
		present, err := recordExists(doc, migration.id)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		if err := writeFileRecord(doc, migration.id, migration.name, migration.lang, content); err != nil {
			return err
		}
		w.logger.Info("migrated legacy slot",
			zap.String("slot", string(migration.slot)),
			zap.String("file_id", migration.id.String()))
	}

	if migrated {
		return nil
	}

	for _, seed := range defaultFiles {
		present, err := recordExists(doc, seed.id)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		if err := writeFileRecord(doc, seed.id, seed.name, seed.lang, seed.body); err != nil {
			return err
		}
	}
	w.logger.Info("seeded default project")
	return nil
}

// seedScratchSlots writes the Python/PHP scratch defaults into empty legacy
// slots. This is the only write ever made to a legacy slot.
func seedScratchSlots(doc *automerge.Doc) error {
	scratch := []struct {
		slot document.LegacySlot
		body string
	}{
		{slot: document.LegacySlotPython, body: scratchPythonContent},
		{slot: document.LegacySlotPHP, body: scratchPHPContent},
	}
	for _, entry := range scratch {
		value, err := doc.Path(string(entry.slot)).Get()
		if err != nil {
			return fmt.Errorf("workspace: seed scratch slot %s: %w", entry.slot, err)
		}
		switch value.Kind() {
		case automerge.KindText:
			content, err := value.Text().Get()
			if err != nil {
				return fmt.Errorf("workspace: seed scratch slot %s: %w", entry.slot, err)
			}
			if content != "" {
				continue
			}
			if err := value.Text().Insert(0, entry.body); err != nil {
				return fmt.Errorf("workspace: seed scratch slot %s: %w", entry.slot, err)
			}
		case automerge.KindVoid:
			if err := doc.Path(string(entry.slot)).Set(automerge.NewText(entry.body)); err != nil {
				return fmt.Errorf("workspace: seed scratch slot %s: %w", entry.slot, err)
			}
		}
	}
	return nil
}

func recordExists(doc *automerge.Doc, id FileID) (bool, error) {
	value, err := doc.Path(string(document.CollectionFiles)).Map().Get(id.String())
	if err != nil {
		return false, fmt.Errorf("workspace: lookup %s: %w", id, err)
	}
	return value.Kind() == automerge.KindMap, nil
}
