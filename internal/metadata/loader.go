package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"automation-core/internal/store"
)

// KV keys.
const (
	KeyWebhooks    = "webhooks"
	KeyWebhookLogs = "webhook_logs"
	KeyProviders   = "ai_providers"
)

// Repository loads and saves endpoint lists and provider registries,
// sealing secrets on the way out.
type Repository struct {
	kv     store.KV
	sealer *store.Sealer
}

func NewRepository(kv store.KV, sealer *store.Sealer) *Repository {
	return &Repository{kv: kv, sealer: sealer}
}

// KV exposes the underlying store for callers persisting other keys.
func (r *Repository) KV() store.KV {
	return r.kv
}

// LoadEndpoints reads the endpoint list. A missing key yields an empty list.
func (r *Repository) LoadEndpoints(ctx context.Context) ([]*Endpoint, error) {
	raw, err := r.kv.Get(ctx, KeyWebhooks)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}

	var endpoints []*Endpoint
	if err := json.Unmarshal(raw, &endpoints); err != nil {
		return nil, fmt.Errorf("decode endpoints: %w", err)
	}
	out := endpoints[:0]
	for i, e := range endpoints {
		if e == nil {
			log.WithField("index", i).Warn("Skipping null endpoint record")
			continue
		}
		secret, err := r.sealer.Open(e.Secret)
		if err != nil {
			log.WithField("endpoint_id", e.ID).Warnf("Dropping unreadable endpoint secret: %v", err)
			secret = ""
		}
		e.Secret = secret
		out = append(out, e)
	}
	return out, nil
}

// SaveEndpoints writes the endpoint list.
func (r *Repository) SaveEndpoints(ctx context.Context, endpoints []Endpoint) error {
	out := make([]Endpoint, len(endpoints))
	for i, e := range endpoints {
		sealed, err := r.sealer.Seal(e.Secret)
		if err != nil {
			return fmt.Errorf("seal secret for %s: %w", e.ID, err)
		}
		e.Secret = sealed
		out[i] = e
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	return r.kv.Put(ctx, KeyWebhooks, raw)
}

// LoadProviders reads the provider registry in stored order.
func (r *Repository) LoadProviders(ctx context.Context) ([]*Provider, error) {
	raw, err := r.kv.Get(ctx, KeyProviders)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	var providers []*Provider
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}
	out := providers[:0]
	for i, p := range providers {
		if p == nil {
			log.WithField("index", i).Warn("Skipping null provider record")
			continue
		}
		key, err := r.sealer.Open(p.APIKey)
		if err != nil {
			log.WithField("provider", p.ID).Warnf("Dropping unreadable API key: %v", err)
			key = ""
		}
		p.APIKey = key
		p.Family = ParseFamily(string(p.Family))
		if p.Status == "" {
			p.Status = StatusUntested
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveProviders writes the provider registry.
func (r *Repository) SaveProviders(ctx context.Context, providers []*Provider) error {
	out := make([]*Provider, len(providers))
	for i, p := range providers {
		c := p.Clone()
		sealed, err := r.sealer.Seal(c.APIKey)
		if err != nil {
			return fmt.Errorf("seal api key for %s: %w", c.ID, err)
		}
		c.APIKey = sealed
		out[i] = c
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}
	return r.kv.Put(ctx, KeyProviders, raw)
}
