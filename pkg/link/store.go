package link

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

// Store persists links. Slug uniqueness is enforced by the store, not by
// the caller.
type Store interface {
	// Create inserts a new link; a duplicate slug returns ErrSlugTaken.
	Create(ctx context.Context, l *Link) error

	// BySlug returns the link for a slug, or ErrLinkNotFound.
	BySlug(ctx context.Context, slug string) (*Link, error)

	// ByUser lists a user's links, newest first.
	ByUser(ctx context.Context, userID uuid.UUID) ([]Link, error)

	// Deactivate marks a user's link inactive; ErrLinkNotFound when the
	// link does not exist or belongs to someone else.
	Deactivate(ctx context.Context, userID, linkID uuid.UUID) error
}

const linksCollection = "links"

// MongoStore implements Store with a unique index on slug.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore creates a Store using db's links collection.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(linksCollection)}
}

// EnsureIndexes creates the slug uniqueness and owner lookup indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create links indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, l *Link) error {
	now := time.Now().UTC()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = now
	l.UpdatedAt = now

	if _, err := s.col.InsertOne(ctx, l); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (s *MongoStore) BySlug(ctx context.Context, slug string) (*Link, error) {
	var l Link
	err := s.col.FindOne(ctx, bson.M{"slug": slug}).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("find link by slug: %w", err)
	}
	return &l, nil
}

func (s *MongoStore) ByUser(ctx context.Context, userID uuid.UUID) ([]Link, error) {
	cur, err := s.col.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	var links []Link
	if err := cur.All(ctx, &links); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	return links, nil
}

func (s *MongoStore) Deactivate(ctx context.Context, userID, linkID uuid.UUID) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": linkID, "user_id": userID},
		bson.M{"$set": bson.M{"active": false, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("deactivate link: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrLinkNotFound
	}
	return nil
}
