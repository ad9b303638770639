package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsUUID(a))
	assert.False(t, IsUUID("room-R"))
	assert.Contains(t, NewRequestID(), "req_")
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Alice", SanitizeString("  Alice\n"))
	assert.Equal(t, "Bob", SanitizeString("B\x00o\x07b"))
	assert.Equal(t, "", SanitizeString(" \t "))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "héllo", TruncateString("héllo wörld", 5))
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "", TruncateString("abc", 0))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "eyJ*****", MaskSensitive("eyJhbGci", 3))
	assert.Equal(t, "***", MaskSensitive("abc", 5))
}
