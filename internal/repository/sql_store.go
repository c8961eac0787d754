package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// releaseRow keeps the full record as JSON next to the columns used for
// lookups and the stale predicate.
type releaseRow struct {
	ID             string     `gorm:"type:text;primaryKey"`
	OCID           string     `gorm:"type:text;index"`
	ReleaseDate    *time.Time `gorm:"index"`
	PeriodKey      string     `gorm:"type:text;index"`
	AmountVersion  int        `gorm:"index"`
	HasItemAmounts bool
	PrimaryAmount  *float64
	ContentHash    string `gorm:"type:text"`
	Document       datatypes.JSONType[domain.ReleaseRecord]
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (releaseRow) TableName() string {
	return "releases"
}

var upsertColumns = []string{
	"ocid", "release_date", "period_key", "amount_version", "has_item_amounts",
	"primary_amount", "content_hash", "document", "updated_at",
}

func toRow(r *domain.ReleaseRecord) releaseRow {
	row := releaseRow{
		ID:             r.ID,
		OCID:           r.OCID,
		ReleaseDate:    r.Date,
		PeriodKey:      r.Source.Period,
		HasItemAmounts: r.HasItemAmounts(),
		ContentHash:    r.ContentHash,
		Document:       datatypes.NewJSONType(*r),
	}
	if r.Amount != nil {
		row.AmountVersion = r.Amount.Version
		v := r.Amount.PrimaryAmount
		row.PrimaryAmount = &v
	}
	return row
}

// SQLStore is the gorm-backed ReleaseStore for PostgreSQL and SQLite.
type SQLStore struct {
	mu  sync.RWMutex
	db  *gorm.DB
	cfg config.DatabaseConfig
	log *logger.Logger

	migrateMu sync.Mutex
	migrated  bool
}

// OpenSQLStore returns a store even when the database is down; calls fail
// with ErrStoreUnavailable until Ping or Reconnect succeeds.
func OpenSQLStore(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*SQLStore, error) {
	log = log.WithComponent("sql_store")
	s := &SQLStore{cfg: *cfg, log: log}

	db, err := InitDB(cfg, log)
	if err != nil {
		log.WithError(err).Warn("Database unavailable at startup, waiting for recovery")
		return s, nil
	}
	s.db = db

	if err := s.Ping(ctx); err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			s.Close()
			return nil, err
		}
		log.WithError(err).Warn("Database unreachable at startup, waiting for recovery")
	}
	return s, nil
}

func (s *SQLStore) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("%w: not connected", ErrStoreUnavailable)
	}
	return db.WithContext(ctx), nil
}

// migrate runs AutoMigrate once per store.
func (s *SQLStore) migrate(db *gorm.DB) error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	if s.migrated || !s.cfg.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(&releaseRow{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	s.migrated = true
	return nil
}

func (s *SQLStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var existing []string
	if err := db.Model(&releaseRow{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, fmt.Errorf("failed to query existing ids: %w", err)
	}
	for _, id := range existing {
		found[id] = struct{}{}
	}
	return found, nil
}

func (s *SQLStore) Snapshots(ctx context.Context, ids []string) (map[string]StoredState, error) {
	out := make(map[string]StoredState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []releaseRow
	err = db.
		Select("id", "content_hash", "amount_version", "primary_amount").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stored state: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = StoredState{ContentHash: r.ContentHash, AmountVersion: r.AmountVersion, PrimaryAmount: r.PrimaryAmount}
	}
	return out, nil
}

// BulkUpsert tries the whole set in one statement. If that fails it
// falls back to one statement per record so a bad record only fails itself.
func (s *SQLStore) BulkUpsert(ctx context.Context, records []*domain.ReleaseRecord) (*BulkResult, error) {
	res := newBulkResult()
	if len(records) == 0 {
		return res, nil
	}

	rows := make([]releaseRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toRow(r))
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}

	err = db.Clauses(onConflict).Create(&rows).Error
	if err == nil {
		res.Written = len(rows)
		return res, nil
	}
	s.log.WithError(err).WithField(logger.FieldCount, len(rows)).Warn("Bulk upsert failed, retrying per record")

	for i := range rows {
		if err := db.Clauses(onConflict).Create(&rows[i]).Error; err != nil {
			res.Failed[rows[i].ID] = err
			continue
		}
		res.Written++
	}
	return res, nil
}

func (s *SQLStore) ListStale(ctx context.Context, version int, limit int) ([]*domain.ReleaseRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	q := db.
		Where("amount_version <> ? AND has_item_amounts = ?", version, true).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []releaseRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale records: %w", err)
	}
	out := make([]*domain.ReleaseRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.Document.Data()
		out = append(out, &rec)
	}
	return out, nil
}

// Get returns the stored record or gorm.ErrRecordNotFound.
func (s *SQLStore) Get(ctx context.Context, id string) (*domain.ReleaseRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var row releaseRow
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	rec := row.Document.Data()
	return &rec, nil
}

func (s *SQLStore) CountByPeriod(ctx context.Context, period string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&releaseRow{}).Where("period_key = ?", period).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count period %s: %w", period, err)
	}
	return n, nil
}

// Ping checks the connection and runs pending migrations once it answers.
func (s *SQLStore) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := pingDB(ctx, db); err != nil {
		return err
	}
	return s.migrate(db)
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Reconnect opens a fresh connection pool and swaps it in once it answers.
func (s *SQLStore) Reconnect(ctx context.Context) error {
	db, err := InitDB(&s.cfg, s.log)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := pingDB(ctx, db); err != nil {
		closeDB(db)
		return err
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()

	if old != nil {
		closeDB(old)
	}
	return s.migrate(db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (s *SQLStore) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
