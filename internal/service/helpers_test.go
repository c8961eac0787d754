package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/repository"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/source"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newSQLStore(t *testing.T) *repository.SQLStore {
	t.Helper()
	store, err := repository.OpenSQLStore(context.Background(), &config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type staticRates struct {
	snap  domain.RateSnapshot
	calls int
}

func (s *staticRates) Fetch(ctx context.Context) domain.RateSnapshot {
	s.calls++
	return s.snap
}

func releaseJSON(id string) string {
	return fmt.Sprintf(`{
  "id": %q,
  "ocid": "ocds-yfs5dr-%s",
  "date": "2024-03-05T12:00:00Z",
  "parties": [
    {"id": "b1", "name": "Ministerio", "roles": ["buyer"]},
    {"id": "s1", "name": "Proveedor SA", "roles": ["supplier"]}
  ],
  "awards": [{"id": "a1", "items": [{"id": "1", "quantity": 2, "unit": {"value": {"amount": 100, "currency": "USD"}}}]}]
}`, id, id)
}

func fetchedDoc(t *testing.T, id string, period domain.Period) *source.FetchedDocument {
	t.Helper()
	raw := []byte(releaseJSON(id))
	rel, err := source.DecodeRelease(raw, id)
	require.NoError(t, err)
	return &source.FetchedDocument{
		Descriptor: domain.ReleaseDescriptor{ID: id, SourceLink: "https://example.org/" + id, Period: period},
		Release:    rel,
		Raw:        raw,
		FetchedAt:  time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
	}
}

// countingStore wraps a store and counts existence queries.
type countingStore struct {
	repository.ReleaseStore
	mu          sync.Mutex
	existsCalls int
}

func (c *countingStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	c.mu.Lock()
	c.existsCalls++
	c.mu.Unlock()
	return c.ReleaseStore.ExistingIDs(ctx, ids)
}
