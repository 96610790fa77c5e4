package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// HealthChecker re-tests every enabled provider on a cron schedule so
// that connection status and the active provider track reality.
type HealthChecker struct {
	gateway  *Gateway
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID
}

// NewHealthChecker builds a checker for a standard cron expression or a
// descriptor such as "@every 30m". An empty schedule disables the checker.
func NewHealthChecker(g *Gateway, schedule string, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &HealthChecker{gateway: g, schedule: schedule, timeout: timeout}
}

// Start registers the job and starts the scheduler.
func (h *HealthChecker) Start() error {
	if h.schedule == "" {
		log.Info("AI provider health checks disabled")
		return nil
	}
	h.cron = cron.New()
	id, err := h.cron.AddFunc(h.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		h.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("register health check %q: %w", h.schedule, err)
	}
	h.entryID = id
	h.cron.Start()
	log.WithField("schedule", h.schedule).Info("AI provider health checks scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running check to finish.
func (h *HealthChecker) Stop() {
	if h.cron == nil {
		return
	}
	<-h.cron.Stop().Done()
}

// RunOnce tests each enabled provider sequentially and returns how many
// are connected afterwards.
func (h *HealthChecker) RunOnce(ctx context.Context) int {
	connected := 0
	for _, p := range h.gateway.Providers() {
		if !p.Enabled {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if _, err := h.gateway.TestProvider(ctx, p.ID); err != nil {
			log.WithField("provider", p.ID).Warnf("Health check failed: %v", err)
			continue
		}
		connected++
	}
	return connected
}
