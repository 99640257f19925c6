package id

import "github.com/google/uuid"

// New returns a random run identifier. Identifiers are safe to use as object
// key components.
func New() string {
	return uuid.NewString()
}
