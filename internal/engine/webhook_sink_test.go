package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-core/internal/metadata"
	"automation-core/internal/storage"
	"automation-core/internal/store"
)

func TestKVLogSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, err := storage.NewLocalKV(t.TempDir(), "")
	require.NoError(t, err)
	sink := NewKVLogSink(kv)

	entries, err := sink.LoadLogs(ctx)
	require.NoError(t, err)
	assert.Nil(t, entries)

	code := 500
	msg := "HTTP 500: Internal Server Error"
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.SaveLogs(ctx, []*LogEntry{
		{ID: "2", Timestamp: at, EndpointID: "wh_1", Event: metadata.EventPostCreated, StatusCode: &code, Error: &msg, Attempt: 2,
			Payload: BuildWebhookPayload(metadata.EventPostCreated, map[string]any{"id": "p1"}, at)},
		{ID: "1", Timestamp: at, EndpointID: "wh_1", Event: metadata.EventPostCreated, Success: true, Attempt: 1},
	}))

	entries, err = sink.LoadLogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].ID)
	require.NotNil(t, entries[0].StatusCode)
	assert.Equal(t, 500, *entries[0].StatusCode)
	assert.Equal(t, msg, *entries[0].Error)
	assert.Equal(t, map[string]any{"id": "p1"}, entries[0].Payload.Data)
	assert.Nil(t, entries[1].Error)

	require.NoError(t, sink.SaveLogs(ctx, nil))
	raw, err := kv.Get(ctx, metadata.KeyWebhookLogs)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestDispatcherRestoresAndClearsLogs(t *testing.T) {
	ctx := context.Background()
	kv, err := storage.NewLocalKV(t.TempDir(), "")
	require.NoError(t, err)
	sink := NewKVLogSink(kv)
	require.NoError(t, sink.SaveLogs(ctx, []*LogEntry{{ID: "old", EndpointID: "wh_1"}}))

	d := NewDispatcher(metadata.NewRegistry(), WithLogSink(sink))
	restored, err := sink.LoadLogs(ctx)
	require.NoError(t, err)
	d.RestoreLogs(restored)
	require.Len(t, d.Logs(), 1)

	d.ClearLogs(ctx)
	assert.Empty(t, d.Logs())
	persisted, err := sink.LoadLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
	_, err = kv.Get(ctx, metadata.KeyWebhookLogs)
	assert.ErrorIs(t, err, store.ErrNotFound, "snapshot key is removed")

	require.NoError(t, sink.ClearLogs(ctx), "clearing twice is fine")
}
