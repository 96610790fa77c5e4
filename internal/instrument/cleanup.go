package instrument

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"automation-core/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays from the _events table.
func CleanupOldEvents(ctx context.Context, s *store.Store, retentionDays int) (int64, error) {
	pb := s.Dialect.NewParamBuilder()
	whereExpr := s.Dialect.IntervalDeleteExpr("created_at", pb, fmt.Sprintf("%d", retentionDays))
	n, err := store.Exec(ctx, s.DB, fmt.Sprintf("DELETE FROM _events WHERE %s", whereExpr), pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	if n > 0 {
		log.Infof("Event cleanup: deleted %d old events", n)
	}
	return n, nil
}

// CleanupScheduler runs CleanupOldEvents on a fixed interval.
type CleanupScheduler struct {
	store         *store.Store
	retentionDays int
	interval      time.Duration
	ticker        *time.Ticker
	done          chan struct{}
}

func NewCleanupScheduler(s *store.Store, retentionDays int, interval time.Duration) *CleanupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupScheduler{
		store:         s,
		retentionDays: retentionDays,
		interval:      interval,
		done:          make(chan struct{}),
	}
}

// Start begins the background cleanup loop.
func (cs *CleanupScheduler) Start() {
	if cs.retentionDays <= 0 {
		return
	}
	cs.ticker = time.NewTicker(cs.interval)
	go func() {
		cs.tick()
		for {
			select {
			case <-cs.done:
				return
			case <-cs.ticker.C:
				cs.tick()
			}
		}
	}()
	log.Infof("Event cleanup scheduler started (retention %d days)", cs.retentionDays)
}

// Stop halts the cleanup loop.
func (cs *CleanupScheduler) Stop() {
	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.done)
}

func (cs *CleanupScheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := CleanupOldEvents(ctx, cs.store, cs.retentionDays); err != nil {
		log.Errorf("%v", err)
	}
}
