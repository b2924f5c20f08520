// Package knol derives content hashes used to recognise a card that is
// already present in a room.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize concatenates the question and answer after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(question, answer string) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		return p
	}

	// Joined with a newline so "ab"+"c" and "a"+"bc" hash differently.
	return normalizePart(question) + "\n" + normalizePart(answer)
}

// Hash returns the SHA-256 of the normalized card content as a hex string.
func Hash(question, answer string) string {
	hashBytes := sha256.Sum256([]byte(Normalize(question, answer)))
	return fmt.Sprintf("%x", hashBytes)
}
