package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-core/internal/metadata"
)

func TestHealthCheckRunOnce(t *testing.T) {
	ok := newProviderServer(t, 200, openAIOK)
	bad := newProviderServer(t, 500, `{"error":{"message":"down"}}`)
	off := newProviderServer(t, 200, openAIOK)

	disabled := provider("off", metadata.FamilyOpenAI, off.URL, metadata.StatusUntested)
	disabled.Enabled = false
	g := NewGateway(&memoryProviderStore{})
	g.SetProviders([]*metadata.Provider{
		provider("bad", metadata.FamilyOpenAI, bad.URL, metadata.StatusConnected),
		provider("ok", metadata.FamilyOpenAI, ok.URL, metadata.StatusUntested),
		disabled,
	})

	hc := NewHealthChecker(g, "", time.Second)
	assert.Equal(t, 1, hc.RunOnce(context.Background()))
	assert.Zero(t, off.calls.Load())
	assert.Equal(t, metadata.StatusError, g.Provider("bad").Status)
	assert.Equal(t, metadata.StatusConnected, g.Provider("ok").Status)
	assert.Nil(t, g.ActiveProvider(), "the failing active provider is released, none is picked")
}

func TestHealthCheckSchedule(t *testing.T) {
	g := NewGateway(nil)

	disabled := NewHealthChecker(g, "", 0)
	require.NoError(t, disabled.Start())
	disabled.Stop()

	assert.Error(t, NewHealthChecker(g, "not a schedule", 0).Start())

	hc := NewHealthChecker(g, "@every 1h", 0)
	require.NoError(t, hc.Start())
	hc.Stop()
}
