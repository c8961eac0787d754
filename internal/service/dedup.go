package service

import (
	"context"
	"fmt"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/repository"
)

// DiffResult partitions descriptors against the store.
type DiffResult struct {
	New      []domain.ReleaseDescriptor
	Existing map[string]struct{}
}

// Deduplicator drops descriptors whose id is already stored.
type Deduplicator struct {
	store repository.ReleaseStore
}

func NewDeduplicator(store repository.ReleaseStore) *Deduplicator {
	return &Deduplicator{store: store}
}

// Diff issues a single existence query for the whole id set. Repeated ids
// collapse to their first occurrence.
func (d *Deduplicator) Diff(ctx context.Context, descriptors []domain.ReleaseDescriptor) (*DiffResult, error) {
	res := &DiffResult{Existing: make(map[string]struct{})}
	if len(descriptors) == 0 {
		return res, nil
	}

	seen := make(map[string]struct{}, len(descriptors))
	unique := make([]domain.ReleaseDescriptor, 0, len(descriptors))
	ids := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		if _, dup := seen[desc.ID]; dup {
			continue
		}
		seen[desc.ID] = struct{}{}
		unique = append(unique, desc)
		ids = append(ids, desc.ID)
	}

	existing, err := d.store.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}

	res.New = make([]domain.ReleaseDescriptor, 0, len(unique)-len(existing))
	for _, desc := range unique {
		if _, ok := existing[desc.ID]; ok {
			res.Existing[desc.ID] = struct{}{}
			continue
		}
		res.New = append(res.New, desc)
	}
	return res, nil
}
