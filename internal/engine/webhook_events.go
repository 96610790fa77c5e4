package engine

import (
	"context"

	"automation-core/internal/metadata"
)

// Convenience triggers, one per application event.

func (d *Dispatcher) PostCreated(ctx context.Context, post any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventPostCreated, post)
}

func (d *Dispatcher) PostScheduled(ctx context.Context, post any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventPostScheduled, post)
}

func (d *Dispatcher) ResponseGenerated(ctx context.Context, response any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventResponseGenerated, response)
}

func (d *Dispatcher) ResponsePosted(ctx context.Context, response any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventResponsePosted, response)
}

func (d *Dispatcher) PlatformConnected(ctx context.Context, platform any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventPlatformConnected, platform)
}

func (d *Dispatcher) PlatformError(ctx context.Context, platformErr any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventPlatformError, platformErr)
}

func (d *Dispatcher) ContactAdded(ctx context.Context, contact any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventContactAdded, contact)
}

func (d *Dispatcher) InteractionLogged(ctx context.Context, interaction any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventInteractionLogged, interaction)
}

func (d *Dispatcher) AutomationTriggered(ctx context.Context, automation any) []*LogEntry {
	return d.TriggerEvent(ctx, metadata.EventAutomationTriggered, automation)
}

// TestEndpoint delivers a test.webhook payload to one endpoint regardless of
// its subscriptions or enabled flag. No retries are attempted. It returns
// nil when the endpoint does not exist.
func (d *Dispatcher) TestEndpoint(ctx context.Context, id string) *LogEntry {
	ep := d.registry.GetEndpoint(id)
	if ep == nil {
		return nil
	}
	payload := BuildWebhookPayload(metadata.EventTestWebhook, map[string]any{
		"message":      "This is a test webhook",
		"webhook_id":   ep.ID,
		"webhook_name": ep.Name,
	}, d.now())
	return d.Deliver(ctx, ep, payload)
}
