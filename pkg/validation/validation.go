package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxRoomIDLength      = 128
	MaxDisplayNameLength = 64
	MaxRoomTitleLength   = 128
)

var RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidateRoomID checks the id clients use to address a room.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("roomId is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("roomId contains invalid characters (letters, digits, '_', '-', '.', ':' allowed)")
	}
	return nil
}

func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("displayName is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("displayName must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return fmt.Errorf("displayName is too long (max %d characters)", MaxDisplayNameLength)
	}
	return nil
}

func ValidateRoomTitle(title string) error {
	if utf8.RuneCountInString(title) > MaxRoomTitleLength {
		return fmt.Errorf("title is too long (max %d characters)", MaxRoomTitleLength)
	}
	return nil
}

// ValidateMaxParticipants accepts zero (use the default) or a value within [1, limit].
func ValidateMaxParticipants(n, limit int) error {
	if n < 0 {
		return fmt.Errorf("maxParticipants must not be negative")
	}
	if n > limit {
		return fmt.Errorf("maxParticipants must be <= %d", limit)
	}
	return nil
}

func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
