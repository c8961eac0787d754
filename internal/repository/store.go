package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
)

// ErrStoreUnavailable wraps connectivity failures reported by Ping.
var ErrStoreUnavailable = errors.New("release store unavailable")

// StoredState is the slice of a stored record persistence needs to decide
// between insert, update and no-op.
type StoredState struct {
	ContentHash   string
	AmountVersion int
	PrimaryAmount *float64
}

// BulkResult reports an unordered bulk upsert. Failed is keyed by record id.
type BulkResult struct {
	Written int
	Failed  map[string]error
}

// ReleaseStore is the persistent collection of release records, unique on id.
type ReleaseStore interface {
	// ExistingIDs returns the subset of ids already stored, in one query.
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	// Snapshots returns stored state for the ids that exist.
	Snapshots(ctx context.Context, ids []string) (map[string]StoredState, error)
	// BulkUpsert writes records keyed by id. A failing record does not stop
	// the others; it is reported in BulkResult.Failed.
	BulkUpsert(ctx context.Context, records []*domain.ReleaseRecord) (*BulkResult, error)
	// ListStale returns records whose amount version differs from version
	// and that carry award item amounts.
	ListStale(ctx context.Context, version int, limit int) ([]*domain.ReleaseRecord, error)
	CountByPeriod(ctx context.Context, period string) (int64, error)
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
}

// Open connects the store selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (ReleaseStore, error) {
	switch cfg.Driver {
	case "mongo":
		s, err := OpenMongoStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "sqlite":
		s, err := OpenSQLStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newBulkResult() *BulkResult {
	return &BulkResult{Failed: make(map[string]error)}
}
