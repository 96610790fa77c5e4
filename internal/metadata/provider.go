package metadata

import (
	"strings"
	"time"
)

// Family identifies the wire protocol a provider speaks.
type Family string

const (
	FamilyOpenAI Family = "openai"
	FamilyGemini Family = "gemini"
	FamilyGrok   Family = "grok"
	FamilyClaude Family = "claude"
	FamilyCustom Family = "custom"
)

// ParseFamily maps a stored family name onto a Family. Unknown names fall
// back to FamilyCustom.
func ParseFamily(s string) Family {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case FamilyOpenAI:
		return FamilyOpenAI
	case FamilyGemini:
		return FamilyGemini
	case FamilyGrok:
		return FamilyGrok
	case FamilyClaude:
		return FamilyClaude
	default:
		return FamilyCustom
	}
}

// ProviderStatus is the connection state recorded by the last test.
type ProviderStatus string

const (
	StatusUntested  ProviderStatus = "untested"
	StatusConnected ProviderStatus = "connected"
	StatusError     ProviderStatus = "error"
)

// Provider is a configured generation backend.
type Provider struct {
	ID           string            `json:"id" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	Family       Family            `json:"type"`
	URL          string            `json:"url" validate:"required,url"`
	APIKey       string            `json:"api_key,omitempty"`
	Model        string            `json:"model"`
	MaxTokens    int               `json:"max_tokens" validate:"gte=0"`
	Temperature  float64           `json:"temperature" validate:"gte=0,lte=2"`
	Headers      map[string]string `json:"headers,omitempty"`
	Enabled      bool              `json:"enabled"`
	Status       ProviderStatus    `json:"status"`
	Capabilities []string          `json:"capabilities,omitempty"`
	LastTest     *time.Time        `json:"last_test,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Upgradable   bool              `json:"upgradable,omitempty"`
}

// Usable reports whether the provider may serve generation requests.
func (p *Provider) Usable() bool {
	return p.Enabled && p.Status == StatusConnected
}

// Clone returns a copy that does not share slices or maps with p.
func (p *Provider) Clone() *Provider {
	c := *p
	if p.Headers != nil {
		c.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			c.Headers[k] = v
		}
	}
	c.Capabilities = append([]string(nil), p.Capabilities...)
	if p.LastTest != nil {
		t := *p.LastTest
		c.LastTest = &t
	}
	return &c
}
