package rooms

import (
	"crypto/rand"
	"fmt"
)

// CodeProvider issues new shareable room codes.
type CodeProvider interface {
	NewCode() (RoomCode, error)
}

type randomCodeProvider struct{}

// NewRandomCodeProvider constructs a CodeProvider drawing 8-character codes
// from the URL-safe alphabet using crypto/rand.
func NewRandomCodeProvider() CodeProvider {
	return &randomCodeProvider{}
}

func (p *randomCodeProvider) NewCode() (RoomCode, error) {
	buf := make([]byte, RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rooms: generate code: %w", err)
	}
	out := make([]byte, RoomCodeLength)
	for i, b := range buf {
		out[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return NewRoomCode(string(out))
}
