package metadata

// Event names shared by callers and endpoint subscriptions. They must match
// verbatim.
const (
	EventPostCreated         = "post.created"
	EventPostScheduled       = "post.scheduled"
	EventResponseGenerated   = "response.generated"
	EventResponsePosted      = "response.posted"
	EventPlatformConnected   = "platform.connected"
	EventPlatformError       = "platform.error"
	EventContactAdded        = "contact.added"
	EventInteractionLogged   = "interaction.logged"
	EventAutomationTriggered = "automation.triggered"

	// EventTestWebhook is reserved for connectivity checks.
	EventTestWebhook = "test.webhook"
)

// KnownEvents lists every event an endpoint may subscribe to.
var KnownEvents = []string{
	EventPostCreated,
	EventPostScheduled,
	EventResponseGenerated,
	EventResponsePosted,
	EventPlatformConnected,
	EventPlatformError,
	EventContactAdded,
	EventInteractionLogged,
	EventAutomationTriggered,
	EventTestWebhook,
}

// IsKnownEvent reports whether name belongs to the event vocabulary.
func IsKnownEvent(name string) bool {
	for _, e := range KnownEvents {
		if e == name {
			return true
		}
	}
	return false
}
