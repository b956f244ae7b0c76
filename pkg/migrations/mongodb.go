package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MailRepositoryCollection = "mail_repositories"

// EnsureMailRepositoryIndexes creates the indexes the mail repositories
// query by. Creating an index that already exists is not an error.
func EnsureMailRepositoryIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(MailRepositoryCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "repository", Value: 1}, {Key: "stored_at", Value: -1}},
			Options: options.Index().SetName("idx_mail_repositories_repository_stored_at"),
		},
		{
			Keys:    bson.D{{Key: "mail_id", Value: 1}},
			Options: options.Index().SetName("idx_mail_repositories_mail_id"),
		},
		{
			Keys:    bson.D{{Key: "state", Value: 1}},
			Options: options.Index().SetName("idx_mail_repositories_state"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
