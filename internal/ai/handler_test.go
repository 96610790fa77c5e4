package ai

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-core/internal/engine"
	"automation-core/internal/metadata"
)

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *engine.AppError `json:"error"`
}

func newAIApp(g *Gateway) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	RegisterRoutes(app, NewHandler(g))
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func TestGenerateRouteWithoutProvider(t *testing.T) {
	app := newAIApp(NewGateway(nil))

	status, env := call(t, app, "POST", "/api/ai/generate", `{"prompt":"hello"}`)
	assert.Equal(t, 409, status)
	assert.Equal(t, "NO_ACTIVE_PROVIDER", env.Error.Code)

	status, env = call(t, app, "POST", "/api/ai/generate", `{"prompt":"   "}`)
	assert.Equal(t, 400, status)
	assert.Equal(t, "INVALID_PAYLOAD", env.Error.Code)
}

func TestGenerateRoute(t *testing.T) {
	srv := newProviderServer(t, 200, openAIOK)
	g := NewGateway(nil)
	g.SetProviders([]*metadata.Provider{provider("openai", metadata.FamilyOpenAI, srv.URL, metadata.StatusConnected)})
	app := newAIApp(g)

	status, env := call(t, app, "POST", "/api/ai/generate", `{"prompt":"hello","options":{"maxTokens":64}}`)
	require.Equal(t, 200, status)
	var res Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "hello from openai", res.Content)

	_, body := srv.request()
	assert.EqualValues(t, 64, body["max_tokens"])
}

func TestGenerateRouteProviderFailure(t *testing.T) {
	srv := newProviderServer(t, 500, `{"error":{"message":"boom"}}`)
	g := NewGateway(nil)
	g.SetProviders([]*metadata.Provider{provider("openai", metadata.FamilyOpenAI, srv.URL, metadata.StatusConnected)})
	app := newAIApp(g)

	status, env := call(t, app, "POST", "/api/ai/generate", `{"prompt":"hello"}`)
	assert.Equal(t, 502, status)
	assert.Equal(t, "AI_REQUEST_FAILED", env.Error.Code)
	assert.Equal(t, "Provider openai: boom", env.Error.Message)
}

func TestProvidersRouteHidesKeys(t *testing.T) {
	g := NewGateway(nil)
	g.SetProviders([]*metadata.Provider{
		provider("a", metadata.FamilyOpenAI, "https://example.com", metadata.StatusConnected),
		provider("b", metadata.FamilyClaude, "https://example.com", metadata.StatusUntested),
	})
	app := newAIApp(g)

	status, env := call(t, app, "GET", "/api/ai/providers", "")
	require.Equal(t, 200, status)
	assert.NotContains(t, string(env.Data), "key-a")

	var views []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 2)
	assert.Equal(t, true, views[0]["has_api_key"])
	assert.Equal(t, true, views[0]["active"])
	assert.Equal(t, false, views[1]["active"])
}

func TestActivateRoute(t *testing.T) {
	g := NewGateway(nil)
	g.SetProviders([]*metadata.Provider{
		provider("a", metadata.FamilyOpenAI, "https://example.com", metadata.StatusConnected),
		provider("b", metadata.FamilyClaude, "https://example.com", metadata.StatusUntested),
	})
	app := newAIApp(g)

	status, env := call(t, app, "POST", "/api/ai/providers/b/activate", "")
	assert.Equal(t, 409, status)
	assert.Equal(t, "PROVIDER_UNAVAILABLE", env.Error.Code)

	status, _ = call(t, app, "POST", "/api/ai/providers/zzz/activate", "")
	assert.Equal(t, 404, status)

	status, _ = call(t, app, "POST", "/api/ai/providers/a/activate", "")
	assert.Equal(t, 200, status)
}

func TestTestRouteReportsFailureInBody(t *testing.T) {
	srv := newProviderServer(t, 401, `{"error":{"message":"Invalid API key"}}`)
	g := NewGateway(nil)
	g.SetProviders([]*metadata.Provider{provider("a", metadata.FamilyOpenAI, srv.URL, metadata.StatusUntested)})
	app := newAIApp(g)

	status, env := call(t, app, "POST", "/api/ai/providers/a/test", "")
	require.Equal(t, 200, status)
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, false, data["success"])
	assert.Contains(t, data["error"], "Invalid API key")
}

func TestStatusRoute(t *testing.T) {
	g := NewGateway(nil)
	app := newAIApp(g)

	_, env := call(t, app, "GET", "/api/ai/status", "")
	assert.JSONEq(t, `{"configured":false}`, string(env.Data))

	g.SetProviders([]*metadata.Provider{provider("a", metadata.FamilyGemini, "https://example.com", metadata.StatusConnected)})
	_, env = call(t, app, "GET", "/api/ai/status", "")
	assert.JSONEq(t, `{"configured":true,"provider":"Provider a","type":"gemini","model":"model-a"}`, string(env.Data))
}
