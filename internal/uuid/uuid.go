// Package uuid generates and validates the client-side local identifiers.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Local ids are UUID v4: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx with y in [89ab].
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Parse parses s and rejects anything that is not a version 4 UUID.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return id, nil
}

// IsValid checks if a string is a canonical, dashed UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if s is not a valid local id.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid local id %q: want UUID v4", s)
	}
	return nil
}
