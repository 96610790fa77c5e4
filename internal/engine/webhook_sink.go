package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"automation-core/internal/metadata"
	"automation-core/internal/store"
)

// KVLogSink persists delivery-log snapshots under the webhook_logs key.
type KVLogSink struct {
	kv store.KV
}

func NewKVLogSink(kv store.KV) *KVLogSink {
	return &KVLogSink{kv: kv}
}

func (s *KVLogSink) SaveLogs(ctx context.Context, entries []*LogEntry) error {
	if entries == nil {
		entries = []*LogEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode webhook logs: %w", err)
	}
	return s.kv.Put(ctx, metadata.KeyWebhookLogs, raw)
}

func (s *KVLogSink) ClearLogs(ctx context.Context) error {
	if err := s.kv.Delete(ctx, metadata.KeyWebhookLogs); err != nil {
		return fmt.Errorf("clear webhook logs: %w", err)
	}
	return nil
}

// LoadLogs reads the persisted snapshot. A missing key yields no entries.
func (s *KVLogSink) LoadLogs(ctx context.Context) ([]*LogEntry, error) {
	raw, err := s.kv.Get(ctx, metadata.KeyWebhookLogs)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load webhook logs: %w", err)
	}
	var entries []*LogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode webhook logs: %w", err)
	}
	return entries, nil
}
