package service

import (
	"context"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/source"
	"golang.org/x/sync/errgroup"
)

// FetchResult is the outcome for one descriptor. Exactly one of Document
// and Err is set.
type FetchResult struct {
	Descriptor domain.ReleaseDescriptor
	Document   *source.FetchedDocument
	Err        error
}

// BatchSink receives each completed batch before the next one starts.
type BatchSink func(ctx context.Context, batch []FetchResult) error

// FetchOptions bound the orchestrator.
type FetchOptions struct {
	BatchSize   int
	Concurrency int
	GroupDelay  time.Duration
	BatchDelay  time.Duration
}

// FetchOrchestrator fetches descriptors in batches, running at most
// Concurrency requests at a time.
type FetchOrchestrator struct {
	fetcher source.DocumentFetcher
	opts    FetchOptions
}

// NewFetchOrchestrator applies defaults of 200 per batch and 20 in flight.
func NewFetchOrchestrator(fetcher source.DocumentFetcher, opts FetchOptions) *FetchOrchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 20
	}
	return &FetchOrchestrator{fetcher: fetcher, opts: opts}
}

// FetchAll returns one result per descriptor in input order. It only
// stops early when ctx is done or the sink fails.
func (o *FetchOrchestrator) FetchAll(ctx context.Context, descriptors []domain.ReleaseDescriptor, sink BatchSink) ([]FetchResult, error) {
	results := make([]FetchResult, 0, len(descriptors))

	for start := 0; start < len(descriptors); start += o.opts.BatchSize {
		if start > 0 {
			if err := sleep(ctx, o.opts.BatchDelay); err != nil {
				return results, err
			}
		}

		end := min(start+o.opts.BatchSize, len(descriptors))
		batch, err := o.fetchBatch(ctx, descriptors[start:end])
		if err != nil {
			return results, err
		}
		results = append(results, batch...)

		if sink != nil {
			if err := sink(ctx, batch); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

func (o *FetchOrchestrator) fetchBatch(ctx context.Context, descriptors []domain.ReleaseDescriptor) ([]FetchResult, error) {
	out := make([]FetchResult, len(descriptors))

	for start := 0; start < len(descriptors); start += o.opts.Concurrency {
		if start > 0 {
			if err := sleep(ctx, o.opts.GroupDelay); err != nil {
				return nil, err
			}
		}

		end := min(start+o.opts.Concurrency, len(descriptors))
		var g errgroup.Group
		g.SetLimit(o.opts.Concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				desc := descriptors[i]
				doc, err := o.fetcher.Fetch(ctx, desc)
				out[i] = FetchResult{Descriptor: desc, Document: doc, Err: err}
				// Per-document failures stay in the result; only cancellation aborts the batch.
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
