package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
)

// RawArchive keeps a copy of every fetched release document under
// {prefix}/{period}/{id}.json.
type RawArchive struct {
	store  ObjectStorage
	prefix string
	log    *logger.Logger
}

// NewRawArchive stores documents in store under prefix.
func NewRawArchive(store ObjectStorage, prefix string, log *logger.Logger) *RawArchive {
	return &RawArchive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		log:    log.WithComponent("archive"),
	}
}

// Key returns the object key for a release.
func (a *RawArchive) Key(period, id string) string {
	return path.Join(a.prefix, period, sanitizeKey(id)+".json")
}

// Archive uploads raw. Empty documents are skipped.
func (a *RawArchive) Archive(ctx context.Context, period, id string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	key := a.Key(period, id)
	if err := a.store.Upload(ctx, key, bytes.NewReader(raw), int64(len(raw)), "application/json"); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

func sanitizeKey(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}
