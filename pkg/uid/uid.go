// Package uid generates request identifiers.
package uid

import "github.com/google/uuid"

// New returns a random UUID string.
func New() string {
	return uuid.New().String()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
