package document

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"
)

// Collection identifies a named top-level collection on the shared document.
type Collection string

const (
	// CollectionFiles holds the replicated file-system map.
	CollectionFiles Collection = "files"
	// CollectionChat holds the append-only chat log.
	CollectionChat Collection = "chat"
)

// LegacySlot names a per-language text slot kept for one-time migration reads.
type LegacySlot string

const (
	LegacySlotHTML   LegacySlot = "html"
	LegacySlotCSS    LegacySlot = "css"
	LegacySlotJS     LegacySlot = "js"
	LegacySlotPython LegacySlot = "python"
	LegacySlotPHP    LegacySlot = "php"
)

var (
	errNilMutation = errors.New("document: transaction mutation is required")
	noOpLogger     = zap.NewNop()
)

// SessionConfig describes the dependencies for a document session.
type SessionConfig struct {
	ActorID string
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Session owns one replicated document for the lifetime of a room binding.
// Every mutation flows through Transact so observers receive a single
// coalesced notification per batch.
type Session struct {
	doc      *automerge.Doc
	mu       sync.Mutex
	notifier *Notifier
	logger   *zap.Logger
	clock    func() time.Time
}

// NewSession constructs a session over a fresh empty document.
func NewSession(cfg SessionConfig) (*Session, error) {
	return newSession(automerge.New(), cfg)
}

// LoadSession constructs a session over previously serialized document state.
func LoadSession(state []byte, cfg SessionConfig) (*Session, error) {
	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("document: load state: %w", err)
	}
	return newSession(doc, cfg)
}

func newSession(doc *automerge.Doc, cfg SessionConfig) (*Session, error) {
	if cfg.ActorID != "" {
		if err := doc.SetActorID(cfg.ActorID); err != nil {
			return nil, fmt.Errorf("document: set actor id: %w", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		doc:      doc,
		notifier: NewNotifier(),
		logger:   logger,
		clock:    clock,
	}, nil
}

// Doc exposes the underlying replicated document for read access and for the
// sync transport. Mutations must go through Transact.
func (s *Session) Doc() *automerge.Doc {
	return s.doc
}

// Notifier returns the change notifier for this session.
func (s *Session) Notifier() *Notifier {
	return s.notifier
}

// Transact applies the mutation as one batch, commits it as a single change,
// and notifies observers of the touched collections exactly once.
func (s *Session) Transact(message string, mutate func(doc *automerge.Doc) error, touched ...Collection) error {
	if mutate == nil {
		return errNilMutation
	}

	s.mu.Lock()
	err := mutate(s.doc)
	if err == nil {
		_, err = s.doc.Commit(message, automerge.CommitOptions{AllowEmpty: true})
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("document: transaction %q: %w", message, err)
	}

	s.notifier.Notify(ChangeEvent{Message: message, At: s.clock()}, touched...)
	return nil
}

// NotifyRemote reports that remote changes were merged into the document
// outside of a local transaction, e.g. by the sync transport.
func (s *Session) NotifyRemote(touched ...Collection) {
	s.notifier.Notify(ChangeEvent{Remote: true, At: s.clock()}, touched...)
}

// Save serializes the full current document state.
func (s *Session) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// Files returns the replicated file-system collection.
func (s *Session) Files() *automerge.Map {
	return s.doc.Path(string(CollectionFiles)).Map()
}

// Chat returns the append-only chat collection.
func (s *Session) Chat() *automerge.List {
	return s.doc.Path(string(CollectionChat)).List()
}

// LegacyText reads the materialized content of a legacy per-language slot.
// It returns the empty string when the slot was never written.
func (s *Session) LegacyText(slot LegacySlot) (string, error) {
	value, err := s.doc.Path(string(slot)).Get()
	if err != nil {
		return "", fmt.Errorf("document: read legacy slot %q: %w", slot, err)
	}
	if value.Kind() != automerge.KindText {
		return "", nil
	}
	content, err := value.Text().Get()
	if err != nil {
		return "", fmt.Errorf("document: materialize legacy slot %q: %w", slot, err)
	}
	return content, nil
}
