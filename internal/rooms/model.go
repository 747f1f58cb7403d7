package rooms

import (
	"errors"
	"fmt"
	"strings"
)

// RoomCodeLength is the fixed length of a shareable room code.
const RoomCodeLength = 8

var (
	// ErrInvalidRoomCode indicates a room code with the wrong length or alphabet.
	ErrInvalidRoomCode = errors.New("rooms: invalid room code")
	// ErrRoomNotFound indicates no persisted room exists for a code.
	ErrRoomNotFound = errors.New("rooms: room not found")
)

// roomCodeAlphabet is the URL-safe alphabet room codes are drawn from.
const roomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz-"

// RoomCode is a validated short human-shareable room identifier.
type RoomCode string

// NewRoomCode validates raw input and returns a RoomCode.
func NewRoomCode(rawInput string) (RoomCode, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) != RoomCodeLength {
		return "", fmt.Errorf("%w: must be %d characters", ErrInvalidRoomCode, RoomCodeLength)
	}
	for _, r := range trimmed {
		if !strings.ContainsRune(roomCodeAlphabet, r) {
			return "", fmt.Errorf("%w: character %q not allowed", ErrInvalidRoomCode, r)
		}
	}
	return RoomCode(trimmed), nil
}

// String returns the underlying room code.
func (code RoomCode) String() string {
	return string(code)
}

// Room is the persisted record backing one collaborative room. DocState holds
// the opaque full-state encoding of the room's shared document; it is nil
// until the first update is persisted.
type Room struct {
	Code                string `gorm:"column:code;primaryKey;size:190;not null"`
	DocState            []byte `gorm:"column:doc_state;type:blob"`
	CreatedAtSeconds    int64  `gorm:"column:created_at_s;not null"`
	LastActiveAtSeconds int64  `gorm:"column:last_active_at_s;not null;index:idx_rooms_last_active"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}
