package ai

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"automation-core/internal/engine"
	"automation-core/internal/metadata"
)

const maxPromptLength = 50000

// Handler exposes the generation gateway over HTTP.
type Handler struct {
	gateway *Gateway
}

func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	ai := app.Group("/api/ai")
	ai.Get("/status", h.Status)
	ai.Get("/providers", h.List)
	ai.Patch("/providers/:id", h.Update)
	ai.Post("/providers/:id/activate", h.Activate)
	ai.Post("/providers/:id/test", h.Test)
	ai.Post("/upgrade-grok", h.UpgradeGrok)
	ai.Post("/generate", h.Generate)
}

// providerView hides the API key in responses.
type providerView struct {
	*metadata.Provider
	APIKey    string `json:"api_key,omitempty"`
	HasAPIKey bool   `json:"has_api_key"`
	Active    bool   `json:"active"`
}

func (h *Handler) view(p *metadata.Provider) providerView {
	v := providerView{Provider: p, HasAPIKey: p.APIKey != ""}
	if active := h.gateway.ActiveProvider(); active != nil {
		v.Active = active.ID == p.ID
	}
	return v
}

// Status handles GET /api/ai/status
func (h *Handler) Status(c *fiber.Ctx) error {
	active := h.gateway.ActiveProvider()
	if active == nil {
		return c.JSON(fiber.Map{"data": fiber.Map{"configured": false}})
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"configured": true,
			"provider":   active.Name,
			"type":       active.Family,
			"model":      active.Model,
		},
	})
}

// List handles GET /api/ai/providers
func (h *Handler) List(c *fiber.Ctx) error {
	providers := h.gateway.Providers()
	out := make([]providerView, len(providers))
	for i, p := range providers {
		out[i] = h.view(p)
	}
	return c.JSON(fiber.Map{"data": out})
}

// Update handles PATCH /api/ai/providers/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	var patch ProviderPatch
	if err := c.BodyParser(&patch); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	id := c.Params("id")
	updated, issues, err := h.gateway.UpdateProvider(c.UserContext(), id, patch)
	if err != nil {
		return mapError(err, id)
	}
	if appErr := engine.ValidationErrorFromIssues(issues); appErr != nil {
		return appErr
	}
	return c.JSON(fiber.Map{"data": h.view(updated)})
}

// Activate handles POST /api/ai/providers/:id/activate
func (h *Handler) Activate(c *fiber.Ctx) error {
	id := c.Params("id")
	if h.gateway.Provider(id) == nil {
		return engine.NotFoundError("provider", id)
	}
	if !h.gateway.SetActiveProvider(id) {
		return engine.NewAppError("PROVIDER_UNAVAILABLE", 409, "Provider must be enabled and connected to become active")
	}
	return c.JSON(fiber.Map{"data": h.view(h.gateway.Provider(id))})
}

// Test handles POST /api/ai/providers/:id/test. A failed probe is reported
// in the body rather than as an error status.
func (h *Handler) Test(c *fiber.Ctx) error {
	id := c.Params("id")
	res, err := h.gateway.TestProvider(c.UserContext(), id)
	if errors.Is(err, ErrProviderNotFound) {
		return engine.NotFoundError("provider", id)
	}
	data := fiber.Map{
		"success":  res.Success,
		"provider": h.view(res.Provider),
	}
	if res.Result != nil {
		data["result"] = res.Result
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return c.JSON(fiber.Map{"data": data})
}

// UpgradeGrok handles POST /api/ai/upgrade-grok
func (h *Handler) UpgradeGrok(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{"upgraded": h.gateway.UpgradeGrok(c.UserContext())}})
}

// Generate handles POST /api/ai/generate
func (h *Handler) Generate(c *fiber.Ctx) error {
	var body struct {
		Prompt  string         `json:"prompt"`
		Options map[string]any `json:"options"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if strings.TrimSpace(body.Prompt) == "" {
		return engine.InvalidPayloadError("prompt is required")
	}
	if len(body.Prompt) > maxPromptLength {
		return engine.InvalidPayloadError("prompt is too long")
	}

	opts, err := DecodeOptions(body.Options)
	if err != nil {
		return engine.InvalidPayloadError(err.Error())
	}

	res, err := h.gateway.GenerateContent(c.UserContext(), body.Prompt, opts)
	if err != nil {
		return mapError(err, "")
	}
	return c.JSON(fiber.Map{"data": res})
}

func mapError(err error, id string) error {
	var perr *ProviderError
	switch {
	case errors.Is(err, ErrNoActiveProvider):
		return engine.NewAppError("NO_ACTIVE_PROVIDER", 409, err.Error())
	case errors.Is(err, ErrProviderNotFound):
		return engine.NotFoundError("provider", id)
	case errors.As(err, &perr):
		return engine.NewAppError("AI_REQUEST_FAILED", 502, perr.Error())
	default:
		return err
	}
}
