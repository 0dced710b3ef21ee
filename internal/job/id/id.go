// Package id provides unique identifier generation for projects and jobs.
package id

import "github.com/google/uuid"

// Generate creates a new random identifier.
// Example: 3f2b8c1e-0d4a-4c55-9a0e-5b9e2c7d1f60
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed identifier.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
