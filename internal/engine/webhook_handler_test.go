package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-core/internal/instrument"
	"automation-core/internal/metadata"
)

type fakeEndpointStore struct {
	mu    sync.Mutex
	saved [][]metadata.Endpoint
}

func (s *fakeEndpointStore) SaveEndpoints(_ context.Context, endpoints []metadata.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, endpoints)
	return nil
}

func (s *fakeEndpointStore) last() []metadata.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *AppError       `json:"error"`
}

func newWebhookApp(t *testing.T) (*fiber.App, *Dispatcher, *fakeEndpointStore) {
	t.Helper()
	d, _ := newTestDispatcher()
	st := &fakeEndpointStore{}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterWebhookRoutes(app, NewWebhookHandler(d, st, NewStreamHub(StreamOptions{})))
	return app, d, st
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func TestCreateWebhookAssignsIDAndMasksSecret(t *testing.T) {
	app, d, st := newWebhookApp(t)

	status, env := doJSON(t, app, "POST", "/api/webhooks", `{
		"name": "CRM",
		"url": "https://crm.example.com/hooks",
		"events": ["contact.added"],
		"secret": "topsecret",
		"enabled": true,
		"total_calls": 99
	}`)
	require.Equal(t, 201, status)

	var created metadata.Endpoint
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, strings.HasPrefix(created.ID, metadata.EndpointIDPrefix))
	assert.Equal(t, SecretMask, created.Secret)
	assert.Zero(t, created.TotalCalls)
	assert.False(t, created.CreatedAt.IsZero())

	stored := d.Registry().GetEndpoint(created.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "topsecret", stored.Secret)

	saved := st.last()
	require.Len(t, saved, 1)
	assert.Equal(t, "topsecret", saved[0].Secret, "store receives the real secret")
}

func TestCreateWebhookResponseIgnoresConcurrentDeliveries(t *testing.T) {
	srv := newHookServer(t, 200)
	app, d, _ := newWebhookApp(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				d.ContactAdded(context.Background(), map[string]any{"id": "c1"})
			}
		}
	}()

	status, env := doJSON(t, app, "POST", "/api/webhooks",
		`{"name": "Busy", "url": "`+srv.URL+`", "events": ["contact.added"], "enabled": true}`)
	close(stop)
	<-done
	require.Equal(t, 201, status)

	var created metadata.Endpoint
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Zero(t, created.TotalCalls)
	assert.Nil(t, created.LastTriggered)
	assert.NotNil(t, d.Registry().GetEndpoint(created.ID))
}

type changeRecorder struct {
	instrument.NoopInstrumenter
	mu      sync.Mutex
	changes []string
}

func (r *changeRecorder) EmitEndpointChange(_ context.Context, action, endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, action+" "+endpointID)
}

func TestWebhookChangesAreTraced(t *testing.T) {
	d, _ := newTestDispatcher()
	rec := &changeRecorder{}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(instrument.WithInstrumenter(c.UserContext(), rec))
		return c.Next()
	})
	RegisterWebhookRoutes(app, NewWebhookHandler(d, &fakeEndpointStore{}, NewStreamHub(StreamOptions{})))

	status, env := doJSON(t, app, "POST", "/api/webhooks",
		`{"name": "CRM", "url": "https://crm.example.com", "events": ["contact.added"]}`)
	require.Equal(t, 201, status)
	var created metadata.Endpoint
	require.NoError(t, json.Unmarshal(env.Data, &created))

	status, _ = doJSON(t, app, "DELETE", "/api/webhooks/"+created.ID, "")
	require.Equal(t, 200, status)
	status, _ = doJSON(t, app, "DELETE", "/api/webhooks/"+created.ID, "")
	require.Equal(t, 404, status)

	assert.Equal(t, []string{
		instrument.ActionWebhookCreated + " " + created.ID,
		instrument.ActionWebhookDeleted + " " + created.ID,
	}, rec.changes)
}

func TestCreateWebhookValidation(t *testing.T) {
	app, _, st := newWebhookApp(t)

	status, env := doJSON(t, app, "POST", "/api/webhooks", `{"name": "Bad", "events": ["nope"]}`)
	require.Equal(t, 422, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	fields := map[string]bool{}
	for _, d := range env.Error.Details {
		fields[d.Field] = true
	}
	assert.True(t, fields["url"])
	assert.True(t, fields["events[0]"])
	assert.Empty(t, st.saved)
}

func TestCreateWebhookRejectsBadCondition(t *testing.T) {
	app, _, _ := newWebhookApp(t)

	status, env := doJSON(t, app, "POST", "/api/webhooks", `{
		"name": "Cond",
		"url": "https://example.com",
		"events": ["post.created"],
		"condition": "data.platform =="
	}`)
	require.Equal(t, 422, status)
	require.Len(t, env.Error.Details, 1)
	assert.Equal(t, "condition", env.Error.Details[0].Field)
}

func TestReplaceWebhooksKeepsMaskedSecret(t *testing.T) {
	app, d, _ := newWebhookApp(t)
	ep := endpoint("wh_keep", "https://example.com/a", metadata.EventPostCreated)
	ep.Secret = "original"
	d.SetEndpoints([]*metadata.Endpoint{ep})

	status, env := doJSON(t, app, "PUT", "/api/webhooks", `[
		{"id": "wh_keep", "name": "Renamed", "url": "https://example.com/a", "events": ["post.created"], "secret": "********", "enabled": true},
		{"name": "New", "url": "https://example.com/b", "events": ["platform.error"], "enabled": false}
	]`)
	require.Equal(t, 200, status)

	var list []metadata.Endpoint
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Renamed", list[0].Name)
	assert.Equal(t, SecretMask, list[0].Secret)
	assert.Empty(t, list[1].Secret)
	assert.Equal(t, "original", d.Registry().GetEndpoint("wh_keep").Secret)
}

func TestReplaceWebhooksReportsIndexedFields(t *testing.T) {
	app, d, _ := newWebhookApp(t)
	d.SetEndpoints([]*metadata.Endpoint{endpoint("wh_1", "https://example.com", metadata.EventPostCreated)})

	status, env := doJSON(t, app, "PUT", "/api/webhooks", `[
		{"name": "Ok", "url": "https://example.com", "events": ["post.created"]},
		{"name": "", "url": "https://example.com", "events": ["post.created"]}
	]`)
	require.Equal(t, 422, status)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, "[1].name", env.Error.Details[0].Field)
	assert.Len(t, d.Endpoints(), 1, "registry untouched on validation failure")
}

func TestDeleteWebhook(t *testing.T) {
	app, d, _ := newWebhookApp(t)
	d.SetEndpoints([]*metadata.Endpoint{endpoint("wh_del", "https://example.com", metadata.EventPostCreated)})

	status, _ := doJSON(t, app, "DELETE", "/api/webhooks/wh_del", "")
	assert.Equal(t, 200, status)
	assert.Empty(t, d.Endpoints())

	status, env := doJSON(t, app, "DELETE", "/api/webhooks/wh_del", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestTriggerEventRoute(t *testing.T) {
	srv := newHookServer(t, 200)
	app, d, _ := newWebhookApp(t)
	d.SetEndpoints([]*metadata.Endpoint{endpoint("wh_route", srv.URL, metadata.EventPlatformConnected)})

	status, env := doJSON(t, app, "POST", "/api/events/platform.connected", `{"platform": "twitter"}`)
	require.Equal(t, 200, status)
	assert.EqualValues(t, 1, env.Meta["delivered"])

	calls := srv.calls()
	require.Len(t, calls, 1)
	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(calls[0].body, &payload))
	assert.Equal(t, map[string]any{"platform": "twitter"}, payload.Data)

	status, env = doJSON(t, app, "POST", "/api/events/no.such.event", "")
	assert.Equal(t, 422, status)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestLogsRouteFiltersAndLimits(t *testing.T) {
	srv := newHookServer(t, 200)
	app, d, _ := newWebhookApp(t)
	d.SetEndpoints([]*metadata.Endpoint{
		endpoint("wh_a", srv.URL, metadata.EventPostCreated),
		endpoint("wh_b", srv.URL, metadata.EventPostCreated),
	})
	for i := 0; i < 3; i++ {
		d.PostCreated(context.Background(), nil)
	}

	status, env := doJSON(t, app, "GET", "/api/webhooks/logs?webhook_id=wh_a&limit=2", "")
	require.Equal(t, 200, status)
	var entries []LogEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "wh_a", e.EndpointID)
	}

	status, env = doJSON(t, app, "GET", "/api/webhooks/wh_b/stats", "")
	require.Equal(t, 200, status)
	var stats Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 3, stats.TotalCalls)
	assert.Equal(t, 100, stats.SuccessRate)

	status, _ = doJSON(t, app, "DELETE", "/api/webhooks/logs", "")
	require.Equal(t, 200, status)
	assert.Empty(t, d.Logs())
}

func TestTestWebhookRoute(t *testing.T) {
	srv := newHookServer(t, 200)
	app, d, _ := newWebhookApp(t)
	d.SetEndpoints([]*metadata.Endpoint{endpoint("wh_ping", srv.URL, metadata.EventPostCreated)})

	status, env := doJSON(t, app, "POST", "/api/webhooks/wh_ping/test", "")
	require.Equal(t, 200, status)
	var entry LogEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.True(t, entry.Success)
	assert.Equal(t, metadata.EventTestWebhook, entry.Event)

	status, _ = doJSON(t, app, "POST", "/api/webhooks/missing/test", "")
	assert.Equal(t, 404, status)
}

func TestStreamRouteRequiresUpgrade(t *testing.T) {
	app, _, _ := newWebhookApp(t)

	status, env := doJSON(t, app, "GET", "/ws/webhooks/logs", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
	assert.Equal(t, "UPGRADE_REQUIRED", env.Error.Code)
}
