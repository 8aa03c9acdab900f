package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/linklethq/linklet/pkg/plan"
)

// Event is a single timestamped usage record: one created link, one rendered
// QR code, one redirect served. The click/scan analytics path writes these.
type Event struct {
	ID       bson.ObjectID `bson:"_id,omitempty"`
	UserID   uuid.UUID     `bson:"user_id"`
	Resource plan.Resource `bson:"resource"`
	At       time.Time     `bson:"at"`
	Meta     bson.M        `bson:"meta,omitempty"`
}

// EventStore persists usage events and counts them per billing period.
type EventStore interface {
	Record(ctx context.Context, event Event) error
	CountInPeriod(ctx context.Context, userID uuid.UUID, res plan.Resource, start, end time.Time) (int64, error)
}

const eventsCollection = "usage_events"

// MongoEventStore implements EventStore on a capped-by-query Mongo collection.
type MongoEventStore struct {
	col *mongo.Collection
}

// NewMongoEventStore creates an EventStore using db's usage_events collection.
func NewMongoEventStore(db *mongo.Database) *MongoEventStore {
	return &MongoEventStore{col: db.Collection(eventsCollection)}
}

// EnsureIndexes creates the compound index the period counter queries rely on.
func (s *MongoEventStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "resource", Value: 1},
			{Key: "at", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create usage_events index: %w", err)
	}
	return nil
}

func (s *MongoEventStore) Record(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if _, err := s.col.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("record usage event: %w", err)
	}
	return nil
}

func (s *MongoEventStore) CountInPeriod(ctx context.Context, userID uuid.UUID, res plan.Resource, start, end time.Time) (int64, error) {
	count, err := s.col.CountDocuments(ctx, bson.M{
		"user_id":  userID,
		"resource": res,
		"at":       bson.M{"$gte": start, "$lt": end},
	})
	if err != nil {
		return 0, fmt.Errorf("count usage events: %w", err)
	}
	return count, nil
}
