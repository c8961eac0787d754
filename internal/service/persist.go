package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/amount"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/repository"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/source"
)

// UpsertStats counts persistence outcomes.
type UpsertStats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add accumulates o into s.
func (s *UpsertStats) Add(o UpsertStats) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Archiver stores raw upstream documents. Failures never stop persistence.
type Archiver interface {
	Archive(ctx context.Context, period, id string, raw []byte) error
}

// Persister normalizes fetched documents and writes them to the store.
type Persister struct {
	store    repository.ReleaseStore
	engine   *amount.Engine
	archive  Archiver
	subBatch int
	now      func() time.Time
}

func NewPersister(store repository.ReleaseStore, engine *amount.Engine, archive Archiver, subBatch int) *Persister {
	if subBatch <= 0 {
		subBatch = 100
	}
	return &Persister{
		store:    store,
		engine:   engine,
		archive:  archive,
		subBatch: subBatch,
		now:      time.Now,
	}
}

type pendingRecord struct {
	record  *domain.ReleaseRecord
	existed bool
}

// UpsertBatch persists docs under snap. Only a failure to read stored
// state is returned as an error; per-record problems are counted.
func (p *Persister) UpsertBatch(ctx context.Context, docs []*source.FetchedDocument, snap domain.RateSnapshot) (UpsertStats, error) {
	var stats UpsertStats
	log := logger.FromContext(ctx).WithComponent("persist")
	runID := logger.GetRunID(ctx)
	now := p.now().UTC()

	records := make([]*domain.ReleaseRecord, 0, len(docs))
	var archived []*source.FetchedDocument
	for _, doc := range docs {
		if doc == nil || doc.Release == nil {
			stats.Skipped++
			continue
		}
		rec := doc.Release.ToRecord()
		if rec.ID == "" {
			stats.Skipped++
			log.WithFields(logger.Fields{"link": doc.Descriptor.SourceLink}).
				WithError(source.ErrMissingID).Warn("Skipping document")
			continue
		}
		if doc.Descriptor.ID != "" && doc.Descriptor.ID != rec.ID {
			log.WithFields(logger.Fields{
				logger.FieldReleaseID: rec.ID,
				"descriptor_id":       doc.Descriptor.ID,
			}).Warn("Document id differs from feed id")
		}

		resolveParties(rec)
		rec.Source = domain.SourceInfo{
			Link:       doc.Descriptor.SourceLink,
			Period:     doc.Descriptor.Period.Key(),
			RunID:      runID,
			FetchedAt:  doc.FetchedAt,
			IngestedAt: now,
		}
		records = append(records, rec)
		archived = append(archived, doc)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	states, err := p.store.Snapshots(ctx, ids)
	if err != nil {
		return stats, fmt.Errorf("persist: %w", err)
	}

	pending := make([]pendingRecord, 0, len(records))
	index := make(map[string]int, len(records))
	for _, rec := range records {
		prev, existed := states[rec.ID]
		wasUpdate := existed && prev.AmountVersion != domain.CalculationVersion
		opts := amount.Options{IncludeVersionInfo: true, WasVersionUpdate: wasUpdate, ComputedAt: now}
		if wasUpdate {
			opts.PreviousAmount = prev.PrimaryAmount
		}
		summary := p.engine.Compute(rec.Awards, snap, opts)
		rec.Amount = &summary

		hash, err := rec.Fingerprint()
		if err != nil {
			stats.Failed++
			log.WithField(logger.FieldReleaseID, rec.ID).WithError(err).Warn("Failed to hash record")
			continue
		}
		rec.ContentHash = hash
		if existed && prev.ContentHash == hash {
			stats.Unchanged++
			continue
		}

		if i, dup := index[rec.ID]; dup {
			pending[i].record = rec
			continue
		}
		index[rec.ID] = len(pending)
		pending = append(pending, pendingRecord{record: rec, existed: existed})
	}

	p.archiveRaw(ctx, archived, log)

	for start := 0; start < len(pending); start += p.subBatch {
		end := min(start+p.subBatch, len(pending))
		stats.Add(p.write(ctx, pending[start:end], log))
	}

	return stats, nil
}

// write submits one sub-batch. Whole-call failures count every record as
// failed; there are no write retries.
func (p *Persister) write(ctx context.Context, batch []pendingRecord, log *logger.Logger) UpsertStats {
	var stats UpsertStats
	recs := make([]*domain.ReleaseRecord, len(batch))
	for i, pr := range batch {
		recs[i] = pr.record
	}

	res, err := p.store.BulkUpsert(ctx, recs)
	if err != nil {
		stats.Failed = len(batch)
		log.WithError(err).WithField(logger.FieldBatch, len(batch)).Error("Sub-batch upsert failed")
		return stats
	}

	for _, pr := range batch {
		if ferr, failed := res.Failed[pr.record.ID]; failed {
			stats.Failed++
			log.WithField(logger.FieldReleaseID, pr.record.ID).WithError(ferr).Warn("Record upsert failed")
			continue
		}
		if pr.existed {
			stats.Updated++
		} else {
			stats.Inserted++
		}
	}
	return stats
}

func (p *Persister) archiveRaw(ctx context.Context, docs []*source.FetchedDocument, log *logger.Logger) {
	if p.archive == nil {
		return
	}
	for _, doc := range docs {
		id := string(doc.Release.ID)
		if err := p.archive.Archive(ctx, doc.Descriptor.Period.Key(), id, doc.Raw); err != nil {
			log.WithField(logger.FieldReleaseID, id).WithError(err).Warn("Failed to archive raw document")
		}
	}
}

// resolveParties fills buyer and supplier from the party list by role when
// the document does not carry them directly.
func resolveParties(rec *domain.ReleaseRecord) {
	if rec.Buyer == nil {
		rec.Buyer = firstWithRole(rec.Parties, domain.RoleBuyer)
	}
	if rec.Buyer == nil {
		rec.Buyer = firstWithRole(rec.Parties, domain.RoleProcuringEntity)
	}
	if rec.Supplier == nil {
		rec.Supplier = firstWithRole(rec.Parties, domain.RoleSupplier)
	}
	if rec.Supplier == nil {
		for _, a := range rec.Awards {
			if len(a.Suppliers) > 0 {
				s := a.Suppliers[0]
				rec.Supplier = &s
				break
			}
		}
	}
}

func firstWithRole(parties []domain.Party, role string) *domain.OrgRef {
	for _, party := range parties {
		if party.HasRole(role) {
			return &domain.OrgRef{ID: party.ID, Name: party.Name}
		}
	}
	return nil
}
