package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrapPreservesSentinel(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "loading job")

	assert.Contains(t, wrapped.Error(), "loading job")
	assert.True(t, Is(wrapped, ErrNotFound))
	assert.True(t, IsNotFound(wrapped))
}

func TestIsInvalidTransition(t *testing.T) {
	err := NewInvalidTransition("cannot cancel job in status %s", "processing")

	assert.True(t, IsInvalidTransition(err))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "processing")
}

func TestIsTransient(t *testing.T) {
	err := Wrap(ErrConflictRetryExhausted, "reserving slot")

	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalidTransition(err))
}

func TestNilChecks(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsInvalidTransition(nil))
	assert.False(t, IsTransient(nil))
}
