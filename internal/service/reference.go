package service

import (
	"crypto/rand"
	"fmt"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newReference returns a random uppercase alphanumeric string of length n,
// used for tracking and certificate numbers handed out to students.
// Bytes at or above the largest multiple of the alphabet size are
// discarded so every character is drawn uniformly.
func newReference(n int) (string, error) {
	const limit = byte(256 / len(referenceAlphabet) * len(referenceAlphabet)) // 252

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, referenceAlphabet[int(b)%len(referenceAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
