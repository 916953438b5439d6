package deadletter

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pulse/internal/constants"
	"pulse/pkg/models"
)

// Document is the archived shape of a dead letter. EventID is lifted out of
// the envelope so the collection can be searched without unpacking messages.
type Document struct {
	EventID     string              `bson:"event_id" json:"event_id"`
	Reason      string              `bson:"reason" json:"reason"`
	SourceTopic string              `bson:"source_topic" json:"source_topic"`
	FailedAt    time.Time           `bson:"failed_at" json:"failed_at"`
	ArchivedAt  time.Time           `bson:"archived_at" json:"archived_at"`
	Attempt     int                 `bson:"attempt" json:"attempt"`
	LastError   string              `bson:"last_error,omitempty" json:"last_error,omitempty"`
	Message     *models.QueueMessage `bson:"message,omitempty" json:"message,omitempty"`
	RawPayload  []byte              `bson:"raw_payload,omitempty" json:"raw_payload,omitempty"`
}

type Repository interface {
	Archive(ctx context.Context, dl models.DeadLetter) error
	List(ctx context.Context, limit int64) ([]Document, error)
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(constants.DeadLetterCollection),
	}
}

func (r *MongoRepository) Archive(ctx context.Context, dl models.DeadLetter) error {
	doc := Document{
		EventID:     dl.Message.ID,
		Reason:      dl.Reason,
		SourceTopic: dl.SourceTopic,
		FailedAt:    dl.FailedAt,
		ArchivedAt:  time.Now().UTC(),
		Attempt:     dl.Message.Delivery.Attempt,
		LastError:   dl.Message.Delivery.LastError,
		RawPayload:  dl.RawPayload,
	}

	if dl.Message.ID != "" {
		msg := dl.Message
		doc.Message = &msg
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to archive dead letter: %w", err)
	}
	return nil
}

func (r *MongoRepository) List(ctx context.Context, limit int64) ([]Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}
	return docs, nil
}
