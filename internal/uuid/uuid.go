// Package uuid wraps github.com/google/uuid with the string-typed helpers
// used across signpad.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID in canonical string form.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is a UUID in canonical lower-case string form.
// Non-canonical encodings (braces, urn prefix, upper case) are rejected so
// that an identifier always round-trips to the same string.
func Valid(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.String() == s
}
