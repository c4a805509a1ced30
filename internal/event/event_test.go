package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_StringRoundTrip(t *testing.T) {
	for s := Editing; s <= Failed; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("DONE")
	assert.Error(t, err)
	assert.Equal(t, "Status(42)", Status(42).String())
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to Status
		want     bool
	}{
		{Editing, Preparing, true},
		{Preparing, Ready, true},
		{Ready, Running, true},
		{Ready, Pausing, false},
		{Running, Pausing, true},
		{Pausing, Paused, true},
		{Paused, Running, true},
		{Paused, Pausing, false},
		{Running, Stopping, true},
		{Stopping, Interrupted, true},
		{Stopping, Running, false},
		{Preparing, Failed, true},
		{Ready, Interrupted, true},
		{Completed, Failed, false},
		{Interrupted, Running, false},
		{Failed, Editing, true},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, Completed.IsTerminal())
	assert.True(t, Interrupted.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.False(t, Stopping.IsTerminal())
	assert.True(t, Paused.IsActive())
	assert.False(t, Ready.IsActive())
}
