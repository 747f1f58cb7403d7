package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/pairpad/pairpad/internal/document"
)

const (
	fieldUser      = "user"
	fieldText      = "text"
	fieldTimestamp = "timestamp"
	fieldColor     = "color"
	fieldAvatarURL = "avatarUrl"

	txAppendMessage = "chat.append_message"

	guestDisplayName = "Guest"
)

var (
	errMissingSession = errors.New("chat: document session is required")
	// ErrEmptyMessage indicates an append with no message text.
	ErrEmptyMessage = errors.New("chat: message text is required")
)

// Message is one immutable chat entry. Messages are append-only; there is no
// edit or delete.
type Message struct {
	User        string
	Text        string
	TimestampMS int64
	Color       string
	AvatarURL   string
}

// LogConfig describes the dependencies for a chat log.
type LogConfig struct {
	Session *document.Session
	Clock   func() time.Time
}

// Log appends to and reads the shared document's chat collection.
type Log struct {
	session *document.Session
	clock   func() time.Time
}

// NewLog constructs a chat log bound to a document session.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.Session == nil {
		return nil, errMissingSession
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Log{session: cfg.Session, clock: clock}, nil
}

// Append adds one message stamped with the local wall clock. Empty author
// names fall back to the guest display name.
func (l *Log) Append(author, text, color, avatarURL string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, ErrEmptyMessage
	}
	if strings.TrimSpace(author) == "" {
		author = guestDisplayName
	}

	message := Message{
		User:        author,
		Text:        trimmed,
		TimestampMS: l.clock().UnixMilli(),
		Color:       color,
		AvatarURL:   avatarURL,
	}

	err := l.session.Transact(txAppendMessage, func(doc *automerge.Doc) error {
		entry := map[string]any{
			fieldUser:      message.User,
			fieldText:      message.Text,
			fieldTimestamp: message.TimestampMS,
			fieldColor:     message.Color,
		}
		if message.AvatarURL != "" {
			entry[fieldAvatarURL] = message.AvatarURL
		}
		return doc.Path(string(document.CollectionChat)).List().Append(entry)
	}, document.CollectionChat)
	if err != nil {
		return Message{}, err
	}
	return message, nil
}

// Messages returns every chat entry in append order.
func (l *Log) Messages() ([]Message, error) {
	values, err := l.session.Chat().Values()
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}

	messages := make([]Message, 0, len(values))
	for _, value := range values {
		if value.Kind() != automerge.KindMap {
			continue
		}
		message, err := readMessage(value.Map())
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func readMessage(record *automerge.Map) (Message, error) {
	message := Message{}
	var err error
	if message.User, err = stringField(record, fieldUser); err != nil {
		return Message{}, err
	}
	if message.Text, err = stringField(record, fieldText); err != nil {
		return Message{}, err
	}
	if message.Color, err = stringField(record, fieldColor); err != nil {
		return Message{}, err
	}
	if message.AvatarURL, err = stringField(record, fieldAvatarURL); err != nil {
		return Message{}, err
	}

	tsValue, err := record.Get(fieldTimestamp)
	if err != nil {
		return Message{}, fmt.Errorf("chat: read message: %w", err)
	}
	if tsValue.Kind() == automerge.KindInt64 {
		message.TimestampMS = tsValue.Int64()
	}
	return message, nil
}

func stringField(record *automerge.Map, field string) (string, error) {
	value, err := record.Get(field)
	if err != nil {
		return "", fmt.Errorf("chat: read field %q: %w", field, err)
	}
	if value.Kind() != automerge.KindStr {
		return "", nil
	}
	return value.Str(), nil
}
