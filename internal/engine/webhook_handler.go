package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	log "github.com/sirupsen/logrus"

	"automation-core/internal/instrument"
	"automation-core/internal/metadata"
)

// SecretMask replaces endpoint secrets in API responses. Sending it back
// unchanged keeps the stored secret.
const SecretMask = "********"

// EndpointStore persists the endpoint list.
type EndpointStore interface {
	SaveEndpoints(ctx context.Context, endpoints []metadata.Endpoint) error
}

type WebhookHandler struct {
	dispatcher *Dispatcher
	store      EndpointStore
	hub        *StreamHub
}

func NewWebhookHandler(d *Dispatcher, s EndpointStore, hub *StreamHub) *WebhookHandler {
	return &WebhookHandler{dispatcher: d, store: s, hub: hub}
}

func RegisterWebhookRoutes(app *fiber.App, h *WebhookHandler) {
	api := app.Group("/api")

	api.Get("/webhooks/logs", h.Logs)
	api.Delete("/webhooks/logs", h.ClearLogs)
	api.Get("/webhooks", h.List)
	api.Put("/webhooks", h.Replace)
	api.Post("/webhooks", h.Create)
	api.Delete("/webhooks/:id", h.Delete)
	api.Post("/webhooks/:id/test", h.Test)
	api.Get("/webhooks/:id/stats", h.Stats)
	api.Post("/events/:event", h.Trigger)

	if h.hub != nil {
		app.Use("/ws", UpgradeOnly())
		app.Get("/ws/webhooks/logs", websocket.New(func(c *websocket.Conn) {
			h.hub.Serve(c, c.Query("event"))
		}))
	}
}

// List handles GET /api/webhooks
func (h *WebhookHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": maskSecrets(h.dispatcher.Registry().Snapshot())})
}

// Replace handles PUT /api/webhooks and swaps the whole registry.
func (h *WebhookHandler) Replace(c *fiber.Ctx) error {
	var body []*metadata.Endpoint
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}

	now := time.Now().UTC()
	var details []ErrorDetail
	for i, ep := range body {
		if ep == nil {
			details = append(details, ErrorDetail{Field: indexField(i, ""), Rule: "required", Message: "endpoint is required"})
			continue
		}
		h.prepare(ep, now)
		for _, is := range metadata.ValidateEndpoint(ep) {
			details = append(details, ErrorDetail{Field: indexField(i, is.Field), Rule: is.Rule, Message: is.Message})
		}
		if d := compileDetail(ep); d != nil {
			d.Field = indexField(i, d.Field)
			details = append(details, *d)
		}
	}
	if len(details) > 0 {
		return ValidationError(details)
	}

	h.dispatcher.SetEndpoints(body)
	h.persist(c.UserContext())
	return c.JSON(fiber.Map{"data": maskSecrets(h.dispatcher.Registry().Snapshot())})
}

// Create handles POST /api/webhooks
func (h *WebhookHandler) Create(c *fiber.Ctx) error {
	var ep metadata.Endpoint
	if err := c.BodyParser(&ep); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	ep.ID = ""
	ep.TotalCalls, ep.SuccessfulCalls, ep.FailedCalls = 0, 0, 0
	ep.LastTriggered = nil
	ep.CreatedAt = time.Time{}
	h.prepare(&ep, time.Now().UTC())

	if appErr := ValidationErrorFromIssues(metadata.ValidateEndpoint(&ep)); appErr != nil {
		return appErr
	}
	if d := compileDetail(&ep); d != nil {
		return ValidationError([]ErrorDetail{*d})
	}

	// ep stays private to this request; deliveries update the registered copy.
	registered := ep
	h.dispatcher.Registry().AddEndpoint(&registered)
	h.persist(c.UserContext())
	instrument.GetInstrumenter(c.UserContext()).EmitEndpointChange(c.UserContext(), instrument.ActionWebhookCreated, ep.ID)

	ep.CompiledCondition = nil
	return c.Status(201).JSON(fiber.Map{"data": maskSecret(ep)})
}

// Delete handles DELETE /api/webhooks/:id
func (h *WebhookHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.dispatcher.Registry().RemoveEndpoint(id) {
		return NotFoundError("webhook", id)
	}
	h.persist(c.UserContext())
	instrument.GetInstrumenter(c.UserContext()).EmitEndpointChange(c.UserContext(), instrument.ActionWebhookDeleted, id)
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// Test handles POST /api/webhooks/:id/test
func (h *WebhookHandler) Test(c *fiber.Ctx) error {
	id := c.Params("id")
	entry := h.dispatcher.TestEndpoint(c.UserContext(), id)
	if entry == nil {
		return NotFoundError("webhook", id)
	}
	h.persist(c.UserContext())
	return c.JSON(fiber.Map{"data": entry})
}

// Stats handles GET /api/webhooks/:id/stats
func (h *WebhookHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.dispatcher.Stats(c.Params("id"))})
}

// Logs handles GET /api/webhooks/logs with optional limit and webhook_id.
func (h *WebhookHandler) Logs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	entries := h.dispatcher.RecentLogs(0)
	if id := c.Query("webhook_id"); id != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.EndpointID == id {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return c.JSON(fiber.Map{"data": entries, "meta": fiber.Map{"total": len(entries)}})
}

// ClearLogs handles DELETE /api/webhooks/logs
func (h *WebhookHandler) ClearLogs(c *fiber.Ctx) error {
	h.dispatcher.ClearLogs(c.UserContext())
	return c.JSON(fiber.Map{"data": fiber.Map{"cleared": true}})
}

// Trigger handles POST /api/events/:event. The request body, if any, is
// the event data.
func (h *WebhookHandler) Trigger(c *fiber.Ctx) error {
	event := c.Params("event")
	if !metadata.IsKnownEvent(event) {
		return ValidationError([]ErrorDetail{{Field: "event", Rule: "knownevent", Message: "unknown event " + event}})
	}

	var data any = map[string]any{}
	if body := c.Body(); len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return InvalidPayloadError("Invalid JSON body")
		}
	}

	entries := h.dispatcher.TriggerEvent(c.UserContext(), event, data)
	h.persist(c.UserContext())
	return c.JSON(fiber.Map{"data": entries, "meta": fiber.Map{"delivered": len(entries)}})
}

// prepare fills defaults and restores a masked secret from the stored
// endpoint with the same ID.
func (h *WebhookHandler) prepare(ep *metadata.Endpoint, now time.Time) {
	if ep.ID == "" {
		ep.ID = metadata.NewEndpointID()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = now
	}
	if ep.Secret == SecretMask {
		ep.Secret = ""
		if existing := h.dispatcher.Registry().GetEndpoint(ep.ID); existing != nil {
			ep.Secret = existing.Secret
		}
	}
	ep.CompiledCondition = nil
}

func (h *WebhookHandler) persist(ctx context.Context) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveEndpoints(context.WithoutCancel(ctx), h.dispatcher.Registry().Snapshot()); err != nil {
		log.Errorf("Failed to persist webhooks: %v", err)
	}
}

func compileDetail(ep *metadata.Endpoint) *ErrorDetail {
	if ep.Condition == "" {
		return nil
	}
	prog, err := CompileCondition(ep.Condition)
	if err != nil {
		return &ErrorDetail{Field: "condition", Rule: "expr", Message: err.Error()}
	}
	ep.CompiledCondition = prog
	return nil
}

func indexField(i int, field string) string {
	prefix := "[" + strconv.Itoa(i) + "]"
	if field == "" {
		return prefix
	}
	return prefix + "." + field
}

func maskSecret(ep metadata.Endpoint) metadata.Endpoint {
	if ep.Secret != "" {
		ep.Secret = SecretMask
	}
	return ep
}

func maskSecrets(endpoints []metadata.Endpoint) []metadata.Endpoint {
	for i := range endpoints {
		endpoints[i] = maskSecret(endpoints[i])
	}
	return endpoints
}
