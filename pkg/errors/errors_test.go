package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	err := Clone(ErrNotFound, "enrollment not found")
	got := FromError(err)
	assert.Equal(t, ErrNotFound.Code, got.Code)
	assert.Equal(t, "enrollment not found", got.Message)
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	got := FromError(fmt.Errorf("connection reset"))
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
}

func TestCacheMissSentinel(t *testing.T) {
	require.NotNil(t, ErrCacheMiss)
	assert.Equal(t, "CACHE_MISS", ErrCacheMiss.Code)
	assert.Equal(t, http.StatusNotFound, ErrCacheMiss.Status)

	wrapped := fmt.Errorf("lookup: %w", ErrCacheMiss)
	assert.Equal(t, ErrCacheMiss.Code, FromError(wrapped).Code)
}
