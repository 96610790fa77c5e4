package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-core/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx))
	return s
}

func TestSQLKV_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewSQLKV(newTestStore(t))

	_, err := kv.Get(ctx, "webhooks")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, "webhooks", []byte(`[{"id":"wh_1"}]`)))
	got, err := kv.Get(ctx, "webhooks")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"wh_1"}]`, string(got))

	// Second put overwrites instead of violating the primary key
	require.NoError(t, kv.Put(ctx, "webhooks", []byte(`[]`)))
	got, err = kv.Get(ctx, "webhooks")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))

	require.NoError(t, kv.Delete(ctx, "webhooks"))
	_, err = kv.Get(ctx, "webhooks")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBootstrap_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Bootstrap(context.Background()))
}

func TestQueryRows_ReturnsMaps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	kv := NewSQLKV(s)
	require.NoError(t, kv.Put(ctx, "a", []byte("1")))
	require.NoError(t, kv.Put(ctx, "b", []byte("2")))

	rows, err := QueryRows(ctx, s.DB, "SELECT key FROM _kv ORDER BY key")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["key"])
	assert.Equal(t, "b", rows[1]["key"])
}
