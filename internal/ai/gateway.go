package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"automation-core/internal/instrument"
	"automation-core/internal/metadata"
	"automation-core/internal/metrics"
)

const (
	// DefaultTestMaxTokens is the token budget of a connectivity probe.
	DefaultTestMaxTokens = 10

	testPrompt      = "Hello, this is a test message. Please respond briefly."
	maxResponseSize = 10 << 20
	timeoutMessage  = "Request timeout"
)

// Upgrade target for upgradable grok providers.
const (
	GrokUpgradeModel     = "grok-4"
	GrokUpgradeMaxTokens = 32768
)

var GrokUpgradeCapabilities = []string{"text", "reasoning", "vision", "realtime"}

// ProviderStore loads and saves the ordered provider registry.
type ProviderStore interface {
	LoadProviders(ctx context.Context) ([]*metadata.Provider, error)
	SaveProviders(ctx context.Context, providers []*metadata.Provider) error
}

// Result is the normalized output of a generation call.
type Result struct {
	Success      bool   `json:"success"`
	Content      string `json:"content"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Tokens       int    `json:"tokens"`
	ResponseTime int64  `json:"response_time"` // milliseconds
	Fallback     bool   `json:"fallback,omitempty"`
	FallbackFrom string `json:"fallback_from,omitempty"`
}

// TestResult is the outcome of a provider connectivity probe.
type TestResult struct {
	Success  bool               `json:"success"`
	Result   *Result            `json:"result,omitempty"`
	Provider *metadata.Provider `json:"provider"`
}

// Gateway dispatches generation requests to the active provider, falling
// back once across the other usable providers.
type Gateway struct {
	store    ProviderStore
	registry *metadata.ProviderRegistry
	client   *http.Client

	mu     sync.RWMutex
	active string

	testMaxTokens  int
	requestTimeout time.Duration
	now            func() time.Time
}

type GatewayOption func(*Gateway)

func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

func WithTestMaxTokens(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.testMaxTokens = n
		}
	}
}

// WithRequestTimeout bounds each outbound provider call.
func WithRequestTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.requestTimeout = d }
}

func WithClock(fn func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = fn }
}

func NewGateway(store ProviderStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:         store,
		registry:      metadata.NewProviderRegistry(),
		client:        &http.Client{},
		testMaxTokens: DefaultTestMaxTokens,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load replaces the registry from the store and re-derives the active
// provider as the first enabled and connected one.
func (g *Gateway) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	providers, err := g.store.LoadProviders(ctx)
	if err != nil {
		return err
	}
	g.SetProviders(providers)
	log.WithField("providers", len(providers)).Info("AI provider registry loaded")
	return nil
}

// SetProviders replaces the registry in the given order and re-derives
// the active provider.
func (g *Gateway) SetProviders(providers []*metadata.Provider) {
	g.registry.Load(providers)
	g.mu.Lock()
	g.active = g.registry.FirstUsable()
	g.mu.Unlock()
}

// Save persists the registry. Errors are returned so callers can log them.
func (g *Gateway) Save(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	if err := g.store.SaveProviders(ctx, g.registry.All()); err != nil {
		return fmt.Errorf("save providers: %w", err)
	}
	return nil
}

func (g *Gateway) save(ctx context.Context) {
	if err := g.Save(context.WithoutCancel(ctx)); err != nil {
		log.Errorf("Failed to persist AI providers: %v", err)
	}
}

// Providers returns copies of every provider in registry order.
func (g *Gateway) Providers() []*metadata.Provider {
	return g.registry.All()
}

// Provider returns a copy of one provider, or nil.
func (g *Gateway) Provider(id string) *metadata.Provider {
	return g.registry.Get(id)
}

// ActiveProvider returns a copy of the active provider, or nil.
func (g *Gateway) ActiveProvider() *metadata.Provider {
	g.mu.RLock()
	id := g.active
	g.mu.RUnlock()
	if id == "" {
		return nil
	}
	return g.registry.Get(id)
}

// SetActiveProvider switches the active provider when the target exists,
// is enabled and is connected. Otherwise nothing changes.
func (g *Gateway) SetActiveProvider(id string) bool {
	p := g.registry.Get(id)
	if p == nil || !p.Usable() {
		return false
	}
	g.mu.Lock()
	g.active = id
	g.mu.Unlock()
	return true
}

// releaseActive clears the active pointer once that provider is no longer
// usable. A replacement is chosen only by Load or SetActiveProvider.
func (g *Gateway) releaseActive() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == "" {
		return
	}
	if p := g.registry.Get(g.active); p == nil || !p.Usable() {
		log.WithField("provider", g.active).Warn("Active AI provider is no longer usable")
		g.active = ""
	}
}

// ProviderPatch lists the fields UpdateProvider may change. Nil fields are
// left untouched.
type ProviderPatch struct {
	Name         *string           `json:"name"`
	Type         *string           `json:"type"`
	URL          *string           `json:"url"`
	APIKey       *string           `json:"api_key"`
	Model        *string           `json:"model"`
	MaxTokens    *int              `json:"max_tokens"`
	Temperature  *float64          `json:"temperature"`
	Headers      map[string]string `json:"headers"`
	Enabled      *bool             `json:"enabled"`
	Capabilities []string          `json:"capabilities"`
}

func (pp ProviderPatch) apply(p *metadata.Provider) {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Type != nil {
		p.Family = metadata.ParseFamily(*pp.Type)
	}
	if pp.URL != nil {
		p.URL = *pp.URL
	}
	if pp.APIKey != nil {
		p.APIKey = *pp.APIKey
	}
	if pp.Model != nil {
		p.Model = *pp.Model
	}
	if pp.MaxTokens != nil {
		p.MaxTokens = *pp.MaxTokens
	}
	if pp.Temperature != nil {
		p.Temperature = *pp.Temperature
	}
	if pp.Headers != nil {
		p.Headers = pp.Headers
	}
	if pp.Enabled != nil {
		p.Enabled = *pp.Enabled
	}
	if pp.Capabilities != nil {
		p.Capabilities = pp.Capabilities
	}
}

// UpdateProvider applies patch, validates the result and persists the
// registry. The returned issues are non-nil when validation failed, in
// which case nothing changes.
func (g *Gateway) UpdateProvider(ctx context.Context, id string, patch ProviderPatch) (*metadata.Provider, []metadata.FieldIssue, error) {
	current := g.registry.Get(id)
	if current == nil {
		return nil, nil, ErrProviderNotFound
	}
	patch.apply(current)
	if issues := metadata.ValidateProvider(current); len(issues) > 0 {
		return nil, issues, nil
	}

	updated := g.registry.Update(id, func(p *metadata.Provider) {
		patch.apply(p)
	})
	if updated == nil {
		return nil, nil, ErrProviderNotFound
	}
	g.releaseActive()
	g.save(ctx)
	return updated, nil, nil
}

// GenerateContent runs prompt against the active provider. On failure it
// tries each other usable provider once, in registry order, and returns the
// first success marked as a fallback. If every provider fails, the active
// provider's error is returned.
func (g *Gateway) GenerateContent(ctx context.Context, prompt string, opts Options) (*Result, error) {
	active := g.ActiveProvider()
	if active == nil {
		return nil, ErrNoActiveProvider
	}

	res, err := g.generateWith(ctx, active, prompt, opts)
	if err == nil {
		return res, nil
	}
	log.WithFields(log.Fields{"provider": active.ID, "family": active.Family}).
		Warnf("Generation failed, trying fallback providers: %v", err)

	if ctx.Err() != nil {
		return nil, err
	}
	if fb := g.tryFallback(ctx, active, prompt, opts); fb != nil {
		return fb, nil
	}
	return nil, err
}

func (g *Gateway) tryFallback(ctx context.Context, failed *metadata.Provider, prompt string, opts Options) *Result {
	var errs error
	for _, p := range g.registry.All() {
		if p.ID == failed.ID || !p.Usable() {
			continue
		}
		res, err := g.generateWith(ctx, p, prompt, opts)
		if err != nil {
			errs = multierr.Append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		res.Fallback = true
		res.FallbackFrom = failed.Name
		metrics.Fallbacks.WithLabelValues(failed.ID, p.ID).Inc()
		instrument.GetInstrumenter(ctx).EmitFallback(ctx, instrument.Generation{
			ProviderID:   p.ID,
			Family:       string(p.Family),
			Model:        p.Model,
			Tokens:       res.Tokens,
			FallbackFrom: failed.ID,
		})
		log.WithFields(log.Fields{"from": failed.ID, "to": p.ID}).Info("Generation served by fallback provider")
		return res
	}
	if errs != nil {
		log.WithField("attempted", len(multierr.Errors(errs))).Warnf("All fallback providers failed: %v", errs)
	}
	return nil
}

// generateWith performs one generation call against p.
func (g *Gateway) generateWith(ctx context.Context, p *metadata.Provider, prompt string, opts Options) (*Result, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, instrument.SourceAI, instrument.ActionGenerate)
	defer span.End()
	attrs := instrument.Generation{ProviderID: p.ID, Family: string(p.Family), Model: p.Model}
	span.Generation(attrs)

	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}

	started := time.Now()
	content, tokens, err := g.call(ctx, p, prompt, opts)
	elapsed := time.Since(started)

	metrics.Generations.WithLabelValues(string(p.Family), metrics.Outcome(err == nil)).Inc()
	metrics.GenerationDuration.WithLabelValues(string(p.Family)).Observe(elapsed.Seconds())
	if err != nil {
		span.Fail(err.Error())
		return nil, err
	}
	attrs.Tokens = tokens
	span.Generation(attrs)
	span.Succeed()
	metrics.GenerationTokens.WithLabelValues(p.ID).Add(float64(tokens))

	return &Result{
		Success:      true,
		Content:      content,
		Provider:     p.Name,
		Model:        p.Model,
		Tokens:       tokens,
		ResponseTime: elapsed.Milliseconds(),
	}, nil
}

func (g *Gateway) call(ctx context.Context, p *metadata.Provider, prompt string, opts Options) (string, int, error) {
	codec := codecFor(p.Family)
	fail := func(status int, msg string, cause error) error {
		return &ProviderError{Provider: p.Name, StatusCode: status, Message: msg, Err: cause}
	}

	body, err := codec.Encode(p, prompt, opts)
	if err != nil {
		return "", 0, fail(0, "Failed to build AI request", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, fail(0, "Failed to marshal AI request", err)
	}
	req, err := codec.Prepare(ctx, p, payload)
	if err != nil {
		return "", 0, fail(0, "Failed to create AI request", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", 0, fail(0, timeoutMessage, err)
		}
		var ue *url.Error
		if errors.As(err, &ue) && ue.Err != nil {
			return "", 0, fail(0, ue.Err.Error(), err)
		}
		return "", 0, fail(0, err.Error(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", 0, fail(resp.StatusCode, "Failed to read AI response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fail(resp.StatusCode, statusMessage(resp.StatusCode, codec.DecodeError(respBody)), nil)
	}

	content, tokens, err := codec.Decode(respBody)
	if err != nil {
		return "", 0, fail(resp.StatusCode, "Failed to parse AI response: "+err.Error(), err)
	}
	return content, tokens, nil
}

// TestProvider sends a small probe to one provider and records the
// outcome on it: connected on success, error (with the message) on failure.
// The registry is persisted either way. A probe failure is returned after
// the update.
func (g *Gateway) TestProvider(ctx context.Context, id string) (*TestResult, error) {
	p := g.registry.Get(id)
	if p == nil {
		return nil, ErrProviderNotFound
	}

	res, genErr := g.generateWith(ctx, p, testPrompt, Options{MaxTokens: g.testMaxTokens})

	at := g.now().UTC()
	updated := g.registry.Update(id, func(p *metadata.Provider) {
		p.LastTest = &at
		if genErr != nil {
			p.Status = metadata.StatusError
			p.LastError = genErr.Error()
		} else {
			p.Status = metadata.StatusConnected
			p.LastError = ""
		}
	})
	if updated == nil {
		return nil, ErrProviderNotFound
	}
	g.releaseActive()
	g.save(ctx)

	log.WithFields(log.Fields{"provider": id, "status": updated.Status}).Info("AI provider tested")
	if genErr != nil {
		return &TestResult{Success: false, Provider: updated}, genErr
	}
	return &TestResult{Success: true, Result: res, Provider: updated}, nil
}

// UpgradeGrok moves every upgradable grok provider to the current grok
// model and limits. The change is one-way: upgraded providers are marked
// non-upgradable. It reports whether any provider changed.
func (g *Gateway) UpgradeGrok(ctx context.Context) bool {
	upgraded := 0
	for _, p := range g.registry.All() {
		if p.Family != metadata.FamilyGrok || !p.Upgradable {
			continue
		}
		g.registry.Update(p.ID, func(p *metadata.Provider) {
			if !p.Upgradable {
				return
			}
			p.Model = GrokUpgradeModel
			p.MaxTokens = GrokUpgradeMaxTokens
			p.Capabilities = append([]string(nil), GrokUpgradeCapabilities...)
			p.Upgradable = false
			upgraded++
		})
	}
	if upgraded == 0 {
		return false
	}
	g.save(ctx)
	log.WithField("count", upgraded).Info("Upgraded grok providers")
	return true
}
