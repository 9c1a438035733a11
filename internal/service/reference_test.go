package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReferenceLengthAndCharset(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ref, err := newReference(10)
		require.NoError(t, err)
		require.Len(t, ref, 10)
		for _, ch := range ref {
			assert.True(t, strings.ContainsRune(referenceAlphabet, ch),
				"unexpected character %q in %s", ch, ref)
		}
		seen[ref] = true
	}
	// 200 draws from a 36^10 space should never repeat.
	assert.Len(t, seen, 200)
}

func TestNewReferenceCoversAlphabet(t *testing.T) {
	counts := map[rune]int{}
	for i := 0; i < 300; i++ {
		ref, err := newReference(12)
		require.NoError(t, err)
		for _, ch := range ref {
			counts[ch]++
		}
	}
	// Every character should show up across 3600 uniform draws.
	for _, ch := range referenceAlphabet {
		assert.Greater(t, counts[ch], 0, "character %q never drawn", ch)
	}
}
