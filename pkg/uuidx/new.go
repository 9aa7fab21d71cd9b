package uuidx

import "github.com/google/uuid"

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new version 7 UUID and returns it as a string.
// Version 7 ids sort by creation time, which keeps consumer groups and test
// topics listed in the order they were made.
func NewString() string {
	return New().String()
}

// NodeID returns a random (version 4) UUID string suitable as a node identity.
func NodeID() string {
	return uuid.NewString()
}
