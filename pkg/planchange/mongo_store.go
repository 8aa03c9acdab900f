package planchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const changesCollection = "scheduled_changes"

// MongoStore implements Store on a Mongo collection. The
// at-most-one-pending invariant is a partial unique index on
// subscription_id filtered to pending documents, so the insert itself is
// the arbiter under concurrency.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore creates a Store using db's scheduled_changes collection.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(changesCollection)}
}

// EnsureIndexes creates the partial unique index that enforces
// at-most-one-pending per subscription, plus the user lookup index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "subscription_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(StatusPending)}),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create scheduled_changes indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreatePending(ctx context.Context, change *ScheduledChange) error {
	if change.SubscriptionID == "" || change.UserID == uuid.Nil || !change.ChangeType.Valid() {
		return ErrInvalidChange
	}

	now := time.Now().UTC()
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	change.Status = StatusPending
	change.CreatedAt = now
	change.UpdatedAt = now

	if _, err := s.col.InsertOne(ctx, change); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrChangePending
		}
		return fmt.Errorf("insert scheduled change: %w", err)
	}
	return nil
}

func (s *MongoStore) FindPending(ctx context.Context, subscriptionID string) (*ScheduledChange, error) {
	return s.findPending(ctx, bson.M{
		"subscription_id": subscriptionID,
		"status":          StatusPending,
	})
}

func (s *MongoStore) FindPendingForUser(ctx context.Context, subscriptionID string, userID uuid.UUID) (*ScheduledChange, error) {
	return s.findPending(ctx, bson.M{
		"subscription_id": subscriptionID,
		"user_id":         userID,
		"status":          StatusPending,
	})
}

func (s *MongoStore) findPending(ctx context.Context, filter bson.M) (*ScheduledChange, error) {
	var change ScheduledChange
	err := s.col.FindOne(ctx, filter).Decode(&change)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoPendingChange
		}
		return nil, fmt.Errorf("find pending change: %w", err)
	}
	return &change, nil
}

func (s *MongoStore) MarkExecuted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.finalize(ctx, id, bson.M{
		"status":      StatusExecuted,
		"executed_at": now,
		"updated_at":  now,
	})
}

func (s *MongoStore) MarkReverted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.finalize(ctx, id, bson.M{
		"status":      StatusReverted,
		"reverted_at": now,
		"updated_at":  now,
	})
}

// finalize applies a terminal status with a conditional update that only
// matches pending documents; a concurrent finalizer makes the second call
// a no-op and the caller sees ErrChangeNotFound.
func (s *MongoStore) finalize(ctx context.Context, id uuid.UUID, set bson.M) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": StatusPending},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("finalize scheduled change: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrChangeNotFound
	}
	return nil
}
