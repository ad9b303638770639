package utils

import (
	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string used for connections, rooms and
// media handles.
func NewID() string {
	return uuid.NewString()
}

// NewRequestID returns an id for correlating HTTP requests in logs.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
