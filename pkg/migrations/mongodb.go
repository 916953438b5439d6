package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pulse/internal/constants"
)

// EnsureDeadLetterIndexes creates the indexes the archiver queries by.
// Index creation is idempotent so this is safe to run on every startup.
func EnsureDeadLetterIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.DeadLetterCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_event_id"),
		},
		{
			Keys:    bson.D{{Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_failed_at"),
		},
		{
			Keys:    bson.D{{Key: "reason", Value: 1}, {Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_reason_failed_at"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create dead letter indexes: %w", err)
		}
	}

	return nil
}
