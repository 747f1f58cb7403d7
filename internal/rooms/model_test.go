package rooms

import (
	"errors"
	"strings"
	"testing"
)

func TestNewRoomCodeValidation(testContext *testing.T) {
	if _, err := NewRoomCode("AbCd1234"); err != nil {
		testContext.Fatalf("expected valid code, got %v", err)
	}
	if _, err := NewRoomCode("  AbCd1234  "); err != nil {
		testContext.Fatalf("expected trimmed code to validate, got %v", err)
	}
	if _, err := NewRoomCode("short"); !errors.Is(err, ErrInvalidRoomCode) {
		testContext.Fatalf("expected invalid code error for wrong length, got %v", err)
	}
	if _, err := NewRoomCode("AbCd12!4"); !errors.Is(err, ErrInvalidRoomCode) {
		testContext.Fatalf("expected invalid code error for bad character, got %v", err)
	}
}

func TestRandomCodeProvider(testContext *testing.T) {
	provider := NewRandomCodeProvider()

	seen := make(map[RoomCode]struct{})
	for i := 0; i < 32; i++ {
		code, err := provider.NewCode()
		if err != nil {
			testContext.Fatalf("failed to generate code: %v", err)
		}
		if len(code.String()) != RoomCodeLength {
			testContext.Fatalf("unexpected code length: %q", code)
		}
		for _, r := range code.String() {
			if !strings.ContainsRune(roomCodeAlphabet, r) {
				testContext.Fatalf("code %q uses character outside alphabet", code)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 2 {
		testContext.Fatalf("expected generated codes to vary")
	}
}
