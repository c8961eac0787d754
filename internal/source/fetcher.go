package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Fetcher downloads release documents with bounded retries.
type Fetcher struct {
	client *resty.Client
	now    func() time.Time
}

func NewFetcher(cfg *config.FeedConfig) *Fetcher {
	return &Fetcher{
		client: newClient(cfg),
		now:    time.Now,
	}
}

// Fetch GETs the descriptor's link. A 404 maps to ErrNotFound without
// retrying; other failures are returned once retries are exhausted.
func (f *Fetcher) Fetch(ctx context.Context, d domain.ReleaseDescriptor) (*FetchedDocument, error) {
	if d.SourceLink == "" {
		return nil, fmt.Errorf("release %s: empty source link", d.ID)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(d.SourceLink)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", d.ID, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("release %s: %w", d.ID, ErrNotFound)
	case code < 200 || code >= 300:
		return nil, fmt.Errorf("release %s: upstream status %d after %d attempts", d.ID, code, resp.Request.Attempt)
	}

	raw := resp.Body()
	release, err := DecodeRelease(raw, d.ID)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", d.ID, err)
	}

	return &FetchedDocument{
		Descriptor: d,
		Release:    release,
		Raw:        raw,
		FetchedAt:  f.now().UTC(),
	}, nil
}
