package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KV is the key-value persistence used for endpoint lists, provider
// registries and delivery-log snapshots.
type KV interface {
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SQLKV stores values in the _kv table.
type SQLKV struct {
	store *Store
}

func NewSQLKV(s *Store) *SQLKV {
	return &SQLKV{store: s}
}

func (k *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	pb := k.store.Dialect.NewParamBuilder()
	var value []byte
	err := k.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT value FROM _kv WHERE key = %s", pb.Add(key)),
		pb.Params()...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, nil
}

func (k *SQLKV) Put(ctx context.Context, key string, value []byte) error {
	pb := k.store.Dialect.NewParamBuilder()
	sqlStr := k.store.Dialect.UpsertKVSQL(pb, key, value)
	if _, err := Exec(ctx, k.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("kv put %s: %w", key, k.store.Dialect.MapError(err))
	}
	return nil
}

func (k *SQLKV) Delete(ctx context.Context, key string) error {
	pb := k.store.Dialect.NewParamBuilder()
	_, err := Exec(ctx, k.store.DB, fmt.Sprintf("DELETE FROM _kv WHERE key = %s", pb.Add(key)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}
