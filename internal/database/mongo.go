package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatrelay/internal/models"
)

const messageCollection = "messages"

// NewMongoDB connects to MongoDB and returns the named database.
func NewMongoDB(ctx context.Context, url, name string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client.Database(name), nil
}

// messageDocument adds the denormalized room id used by the history index.
type messageDocument struct {
	models.Message `bson:",inline"`
	RoomID         string `bson:"room_id"`
}

// MongoMessageStore keeps messages in a Mongo collection. It only covers
// MessageRepository; rooms and the ledger stay in the relational store.
type MongoMessageStore struct {
	DB *mongo.Database
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{DB: db}
}

// EnsureIndexes creates the (room_id, created_at, _id) index that backs
// ListMessages.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.DB.Collection(messageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "room_id", Value: 1},
			{Key: "created_at", Value: -1},
			{Key: "_id", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	return nil
}

func (s *MongoMessageStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	doc := messageDocument{Message: *msg, RoomID: msg.RoomID()}
	if _, err := s.DB.Collection(messageCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *MongoMessageStore) ListMessages(ctx context.Context, roomID string, offset, limit int) ([]*models.Message, error) {
	if offset < 0 || limit < 0 {
		return nil, errInvalidWindow(offset, limit)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.DB.Collection(messageCollection).Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]*models.Message, 0, len(docs))
	for i := range docs {
		msg := docs[i].Message
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}
	return messages, nil
}

// SplitStore serves messages from one backend and everything else from
// another.
type SplitStore struct {
	Database
	Messages MessageRepository
}

func (s *SplitStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	return s.Messages.SaveMessage(ctx, msg)
}

func (s *SplitStore) ListMessages(ctx context.Context, roomID string, offset, limit int) ([]*models.Message, error) {
	return s.Messages.ListMessages(ctx, roomID, offset, limit)
}
