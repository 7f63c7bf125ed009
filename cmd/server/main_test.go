package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/companion-gateway/internal/observability"
	"github.com/lexiqai/companion-gateway/internal/resilience"
)

func TestNewBreaker_ReportsStateChanges(t *testing.T) {
	observability.InitLogger("disabled", false)
	cb := newBreaker("voice_backend", 1, time.Minute)
	require.NotNil(t, cb.OnStateChange)

	assert.NotPanics(t, func() { cb.RecordResult(false) })
	assert.Equal(t, resilience.StateOpen, cb.GetState())

	ready, err := cb.Ready(context.Background())
	assert.False(t, ready)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
