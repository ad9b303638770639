package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("R"))
	assert.NoError(t, ValidateRoomID("team-standup_2024.q1:a"))

	assert.Error(t, ValidateRoomID(""))
	assert.Error(t, ValidateRoomID("room with spaces"))
	assert.Error(t, ValidateRoomID("room/../etc"))
	assert.Error(t, ValidateRoomID(strings.Repeat("a", MaxRoomIDLength+1)))
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName("Alice"))
	assert.NoError(t, ValidateDisplayName("Зоя 🎧"))

	assert.Error(t, ValidateDisplayName(""))
	assert.Error(t, ValidateDisplayName("   "))
	assert.Error(t, ValidateDisplayName(strings.Repeat("x", MaxDisplayNameLength+1)))
	assert.Error(t, ValidateDisplayName(string([]byte{0xff, 0xfe})))
}

func TestValidateMaxParticipants(t *testing.T) {
	assert.NoError(t, ValidateMaxParticipants(0, 50))
	assert.NoError(t, ValidateMaxParticipants(50, 50))
	assert.Error(t, ValidateMaxParticipants(-1, 50))
	assert.Error(t, ValidateMaxParticipants(51, 50))
}

func TestValidateRoomTitle(t *testing.T) {
	assert.NoError(t, ValidateRoomTitle(""))
	assert.Error(t, ValidateRoomTitle(strings.Repeat("t", MaxRoomTitleLength+1)))
}
