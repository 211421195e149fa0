package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "WAITING_FOR_CLEANUP", StateWaitingForCleanup.String())
	assert.Equal(t, "HEALTHY", StateHealthy.String())
	assert.Equal(t, "UNHEALTHY", StateUnhealthy.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateHealthy.Terminal())
	assert.True(t, StateUnhealthy.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateProbing.Terminal())
}
