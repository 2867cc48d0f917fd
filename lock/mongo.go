package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoManager is a document-store-backed Manager implementation.
// Atomicity relies on MongoDB's single-document update semantics: an
// acquisition is one FindOneAndUpdate that either takes over an expired
// lock document or fails on the unique _id when the lock is live.
type MongoManager struct {
	coll   *mongo.Collection
	client *mongo.Client
	logger *zap.Logger
}

// MongoConfig contains MongoDB connection settings for the lock manager.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string `json:"uri" yaml:"uri"`

	// Database is the database name (default: "runledger").
	Database string `json:"database" yaml:"database"`

	// Collection is the lock collection name (default: "run_locks").
	Collection string `json:"collection" yaml:"collection"`
}

// lockDocument is the persisted shape of a RunLock. The run id doubles as
// the document _id, which is what gives acquisition its atomicity.
type lockDocument struct {
	RunID      string    `bson:"_id"`
	HolderID   string    `bson:"holder_id"`
	Fence      int64     `bson:"fence"`
	AcquiredAt time.Time `bson:"acquired_at"`
	ExpiresAt  time.Time `bson:"expires_at"`
	Reason     string    `bson:"reason,omitempty"`
}

func (d *lockDocument) toRunLock() *RunLock {
	return &RunLock{
		RunID:      d.RunID,
		HolderID:   d.HolderID,
		Fence:      d.Fence,
		AcquiredAt: d.AcquiredAt,
		ExpiresAt:  d.ExpiresAt,
		Reason:     d.Reason,
	}
}

// NewMongoManager creates a MongoDB-backed lock manager and verifies the
// connection.
func NewMongoManager(cfg MongoConfig, logger *zap.Logger) (*MongoManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "runledger"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "run_locks"
	}

	return &MongoManager{
		coll:   client.Database(database).Collection(collection),
		client: client,
		logger: logger.With(zap.String("component", "lock_mongo")),
	}, nil
}

// NewMongoManagerFromCollection wraps an existing collection (used in
// integration tests).
func NewMongoManagerFromCollection(coll *mongo.Collection, logger *zap.Logger) *MongoManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoManager{
		coll:   coll,
		logger: logger.With(zap.String("component", "lock_mongo")),
	}
}

// TryAcquire implements Manager.TryAcquire.
func (m *MongoManager) TryAcquire(ctx context.Context, runID string, opts TryAcquireOptions) (*TryAcquireResult, error) {
	if runID == "" {
		return nil, ErrInvalidRunID
	}
	opts = opts.withDefaults()

	now := time.Now()
	holderID := uuid.New().String()

	// The filter matches only an absent or expired document. When the
	// document exists and is live, the upsert collides with the _id
	// unique index and we learn the current holder instead.
	filter := bson.M{
		"_id":        runID,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"holder_id":   holderID,
			"acquired_at": now,
			"expires_at":  now.Add(opts.TTL),
			"reason":      opts.Reason,
		},
		"$inc": bson.M{"fence": 1},
	}
	findOpts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc lockDocument
	err := m.coll.FindOneAndUpdate(ctx, filter, update, findOpts).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			var existing lockDocument
			if err := m.coll.FindOne(ctx, bson.M{"_id": runID}).Decode(&existing); err != nil {
				if errors.Is(err, mongo.ErrNoDocuments) {
					// Holder vanished between attempts; report contention
					// and let the caller retry.
					return &TryAcquireResult{}, nil
				}
				return nil, fmt.Errorf("failed to read current holder: %w", err)
			}
			return &TryAcquireResult{ExistingHolderID: existing.HolderID}, nil
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	m.logger.Debug("lock acquired",
		zap.String("run_id", runID),
		zap.String("holder_id", doc.HolderID),
		zap.Int64("fence", doc.Fence),
	)
	return &TryAcquireResult{Acquired: true, Lock: doc.toRunLock()}, nil
}

// Release implements Manager.Release. The document is expired in place,
// never deleted: it carries the run's fence counter, which the next
// acquisition must increment past.
func (m *MongoManager) Release(ctx context.Context, runID, holderID string) (bool, error) {
	now := time.Now()
	res, err := m.coll.UpdateOne(ctx,
		bson.M{
			"_id":        runID,
			"holder_id":  holderID,
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{"expires_at": now}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}
	if res.ModifiedCount > 0 {
		m.logger.Debug("lock released",
			zap.String("run_id", runID),
			zap.String("holder_id", holderID),
		)
	}
	return res.ModifiedCount > 0, nil
}

// Extend implements Manager.Extend.
func (m *MongoManager) Extend(ctx context.Context, runID, holderID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTryAcquireOptions().TTL
	}
	now := time.Now()

	res, err := m.coll.UpdateOne(ctx,
		bson.M{
			"_id":        runID,
			"holder_id":  holderID,
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{"expires_at": now.Add(ttl)}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to extend lock: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ForceRelease implements Manager.ForceRelease. Like Release, it expires
// the document in place so the fence counter survives the override.
func (m *MongoManager) ForceRelease(ctx context.Context, runID string) (bool, error) {
	now := time.Now()
	res, err := m.coll.UpdateOne(ctx,
		bson.M{
			"_id":        runID,
			"expires_at": bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{"expires_at": now}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to force release lock: %w", err)
	}
	if res.ModifiedCount > 0 {
		m.logger.Info("lock force released", zap.String("run_id", runID))
	}
	return res.ModifiedCount > 0, nil
}

// List implements Manager.List. Expired documents are filtered out but
// deliberately not deleted: each one carries the run's fence counter,
// which the next takeover increments in place. Deleting it would reset
// the counter and break fence monotonicity.
func (m *MongoManager) List(ctx context.Context) ([]*RunLock, error) {
	now := time.Now()

	cursor, err := m.coll.Find(ctx, bson.M{"expires_at": bson.M{"$gt": now}})
	if err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]*RunLock, 0)
	for cursor.Next(ctx) {
		var doc lockDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, doc.toRunLock())
	}
	return result, cursor.Err()
}

// Close implements Manager.Close.
func (m *MongoManager) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Ensure MongoManager implements Manager
var _ Manager = (*MongoManager)(nil)
