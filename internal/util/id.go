package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string. Post ids, request ids and
// notification ids all share this format.
func NewID() string {
	return uuid.NewString()
}
