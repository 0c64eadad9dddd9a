package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomIDs_Next(t *testing.T) {
	ids := NewRoomIDs(8)

	id, err := ids.Next(func(string) bool { return false })
	require.NoError(t, err)
	assert.Len(t, id, 8)
	assert.Regexp(t, `^[0-9a-z]+$`, id)
}

func TestRoomIDs_SkipsTaken(t *testing.T) {
	ids := NewRoomIDs(8)
	calls := 0

	id, err := ids.Next(func(string) bool {
		calls++
		return calls < 3
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, calls)
}

func TestRoomIDs_Exhausted(t *testing.T) {
	ids := NewRoomIDs(8)

	_, err := ids.Next(func(string) bool { return true })
	assert.ErrorIs(t, err, ErrNoFreeRoomID)
}
