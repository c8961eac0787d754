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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoRelease is the stored document: the record plus derived fields
// used by indexes and the stale query.
type mongoRelease struct {
	MongoID              primitive.ObjectID `bson:"_id,omitempty"`
	domain.ReleaseRecord `bson:",inline"`
	HasItemAmounts       bool      `bson:"hasItemAmounts"`
	UpdatedAt            time.Time `bson:"updatedAt"`
}

type stateProjection struct {
	ID          string `bson:"id"`
	ContentHash string `bson:"contentHash"`
	Amount      *struct {
		Version       int     `bson:"version"`
		PrimaryAmount float64 `bson:"primaryAmount"`
	} `bson:"amount"`
}

// MongoStore is the ReleaseStore backed by a MongoDB collection.
type MongoStore struct {
	mu     sync.RWMutex
	client *mongo.Client
	coll   *mongo.Collection
	cfg    config.DatabaseConfig
	log    *logger.Logger

	indexMu sync.Mutex
	indexed bool
}

// OpenMongoStore creates the client without requiring the server to be up.
// An unreachable server is logged and left to the health check's recovery;
// indexes are created on the first successful ping.
func OpenMongoStore(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*MongoStore, error) {
	s := &MongoStore{cfg: *cfg, log: log.WithComponent("mongo_store")}
	client, coll, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.client, s.coll = client, coll

	if err := s.Ping(ctx); err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		s.log.WithError(err).Warn("MongoDB unreachable at startup, waiting for recovery")
	}
	return s, nil
}

func (s *MongoStore) timeout() time.Duration {
	if s.cfg.Timeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.Timeout
}

// dial builds a client. The driver connects lazily, so this only fails on
// a malformed URI or options.
func (s *MongoStore) dial(ctx context.Context) (*mongo.Client, *mongo.Collection, error) {
	timeout := s.timeout()
	opts := options.Client().
		ApplyURI(s.cfg.URI).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)
	if s.cfg.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(s.cfg.MaxOpenConns))
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	collection := s.cfg.Collection
	if collection == "" {
		collection = "releases"
	}
	return client, client.Database(s.cfg.Name).Collection(collection), nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexed {
		return nil
	}

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "source.period", Value: 1}}},
		{Keys: bson.D{{Key: "amount.version", Value: 1}, {Key: "hasItemAmounts", Value: 1}}},
	}
	if _, err := s.collection().Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	s.indexed = true
	s.log.WithFields(logger.Fields{"database": s.cfg.Name, "collection": s.collection().Name()}).Info("MongoDB indexes ready")
	return nil
}

func (s *MongoStore) collection() *mongo.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coll
}

func (s *MongoStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	cur, err := s.collection().Find(ctx,
		bson.M{"id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"id": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing ids: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode id: %w", err)
		}
		found[doc.ID] = struct{}{}
	}
	return found, cur.Err()
}

func (s *MongoStore) Snapshots(ctx context.Context, ids []string) (map[string]StoredState, error) {
	out := make(map[string]StoredState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.collection().Find(ctx,
		bson.M{"id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"id": 1, "contentHash": 1, "amount.version": 1, "amount.primaryAmount": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to load stored state: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var p stateProjection
		if err := cur.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode stored state: %w", err)
		}
		st := StoredState{ContentHash: p.ContentHash}
		if p.Amount != nil {
			st.AmountVersion = p.Amount.Version
			v := p.Amount.PrimaryAmount
			st.PrimaryAmount = &v
		}
		out[p.ID] = st
	}
	return out, cur.Err()
}

// replaceModel writes the whole document so fields missing from a newer
// version of a release do not survive from the stored one.
func replaceModel(r *domain.ReleaseRecord, now time.Time) *mongo.ReplaceOneModel {
	doc := mongoRelease{ReleaseRecord: *r, HasItemAmounts: r.HasItemAmounts(), UpdatedAt: now}
	return mongo.NewReplaceOneModel().
		SetFilter(bson.M{"id": r.ID}).
		SetReplacement(doc).
		SetUpsert(true)
}

// BulkUpsert submits one unordered bulk write. Per-document write errors
// are mapped back to record ids; any other error fails the whole call.
func (s *MongoStore) BulkUpsert(ctx context.Context, records []*domain.ReleaseRecord) (*BulkResult, error) {
	res := newBulkResult()
	if len(records) == 0 {
		return res, nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		models = append(models, replaceModel(r, now))
	}

	_, err := s.collection().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		res.Written = len(records)
		return res, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return nil, fmt.Errorf("bulk upsert failed: %w", err)
	}
	for _, we := range bwe.WriteErrors {
		if we.Index >= 0 && we.Index < len(records) {
			res.Failed[records[we.Index].ID] = we
		}
	}
	res.Written = len(records) - len(res.Failed)
	return res, nil
}

func (s *MongoStore) ListStale(ctx context.Context, version int, limit int) ([]*domain.ReleaseRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.collection().Find(ctx, bson.M{
		"amount.version": bson.M{"$ne": version},
		"hasItemAmounts": true,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale records: %w", err)
	}
	defer cur.Close(ctx)

	var out []*domain.ReleaseRecord
	for cur.Next(ctx) {
		var doc mongoRelease
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		rec := doc.ReleaseRecord
		out = append(out, &rec)
	}
	return out, cur.Err()
}

func (s *MongoStore) CountByPeriod(ctx context.Context, period string) (int64, error) {
	n, err := s.collection().CountDocuments(ctx, bson.M{"source.period": period})
	if err != nil {
		return 0, fmt.Errorf("failed to count period %s: %w", period, err)
	}
	return n, nil
}

// Ping checks the primary and, once it answers, makes sure indexes exist.
func (s *MongoStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.ensureIndexes(ctx)
}

// Reconnect dials a new client, verifies it answers and swaps it in,
// dropping the old one.
func (s *MongoStore) Reconnect(ctx context.Context) error {
	client, coll, err := s.dial(ctx)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	old := s.client
	s.client, s.coll = client, coll
	s.mu.Unlock()

	if old != nil {
		old.Disconnect(context.Background())
	}
	return s.ensureIndexes(ctx)
}

func (s *MongoStore) Close() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
