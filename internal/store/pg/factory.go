package pg

import (
	"fmt"

	"github.com/fieldnote-ai/warden/internal/store"
)

// NewPGStores creates all stores backed by Postgres (managed-infra mode).
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Sessions: NewPGSessionStore(db),
		Goals:    NewPGGoalStore(db),
		Schedule: NewPGScheduleStore(db),
		Mind:     NewPGMindStore(db),
		Usage:    NewPGUsageStore(db),
		EmailLog: NewPGEmailLogStore(db),
	}, nil
}
