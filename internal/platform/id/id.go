// Package id generates URL-safe record identifiers.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random v4 UUID encoded as 26 lowercase base32 characters.
func NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(u[:])), nil
}

// Valid reports whether s has the shape produced by NewID.
func Valid(s string) bool {
	if len(s) != 26 {
		return false
	}
	decoded, err := encoding.DecodeString(strings.ToUpper(s))
	return err == nil && len(decoded) == 16
}
