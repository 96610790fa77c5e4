package store

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Bootstrap creates the _kv and _events tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	log.WithField("dialect", s.Dialect.Name()).Info("System tables ready")
	return nil
}
