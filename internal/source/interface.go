package source

import (
	"context"
	"errors"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
)

var (
	// ErrNotFound is returned when the upstream answers 404 for a document.
	ErrNotFound = errors.New("document not found")
	// ErrMissingID is returned when a document carries no natural id.
	ErrMissingID = errors.New("release id missing")
)

// Discoverer lists the releases published in a period index.
type Discoverer interface {
	// Discover returns the period's descriptors in feed order. A missing
	// index yields an empty slice and no error.
	Discover(ctx context.Context, period domain.Period) ([]domain.ReleaseDescriptor, error)
}

// DocumentFetcher retrieves one full release document.
type DocumentFetcher interface {
	Fetch(ctx context.Context, d domain.ReleaseDescriptor) (*FetchedDocument, error)
}

// FetchedDocument is a decoded release plus the bytes it came from.
type FetchedDocument struct {
	Descriptor domain.ReleaseDescriptor
	Release    *ReleaseDocument
	Raw        []byte
	FetchedAt  time.Time
}
