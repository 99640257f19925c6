package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/kirkproxy/internal/domain"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

var ErrRunNotFound = errors.New("run not found")

type RunStore interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, bool, error)
	Update(ctx context.Context, id string, update domain.RunUpdate) (domain.Run, error)
	Close() error
}

// Open returns the run store for driver. Postgres stores create their schema
// on open.
func Open(ctx context.Context, driver, dsn string) (RunStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryRunStore(), nil
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("postgres dsn is required")
		}
		return NewPostgresRunStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported run store driver: %s", driver)
	}
}
