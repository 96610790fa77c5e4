// Package metrics holds the prometheus collectors shared by the dispatcher
// and the generation gateway.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_webhook_deliveries_total",
			Help: "Webhook delivery attempts by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	WebhookRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_webhook_retries_total",
			Help: "Webhook retry attempts scheduled after a failed delivery",
		},
	)

	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_ai_generations_total",
			Help: "Generation calls by provider family and outcome",
		},
		[]string{"family", "outcome"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_ai_generation_duration_seconds",
			Help:    "Generation call duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"family"},
	)

	GenerationTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_ai_tokens_total",
			Help: "Tokens reported by providers",
		},
		[]string{"provider"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_ai_fallbacks_total",
			Help: "Generation requests served by a fallback provider",
		},
		[]string{"from", "to"},
	)
)

// Outcome maps a success flag onto the label value.
func Outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
