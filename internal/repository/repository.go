// Package repository keeps whole mails in named MongoDB repositories, the
// usual destination of the error processor.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/metrics"
	"mailflow/pkg/migrations"
	"mailflow/pkg/models"
)

type Repository interface {
	Store(ctx context.Context, name string, mail *models.Mail) error
	List(ctx context.Context, name string, limit int) ([]Summary, error)
	Get(ctx context.Context, name, id string) (*models.Mail, error)
	Delete(ctx context.Context, name, id string) error
	Count(ctx context.Context, name string) (int64, error)
	Names(ctx context.Context) ([]string, error)
}

// Summary describes a stored mail without its content.
type Summary struct {
	ID           string    `json:"id" bson:"mail_id"`
	Repository   string    `json:"repository" bson:"repository"`
	Sender       string    `json:"sender" bson:"sender"`
	Recipients   []string  `json:"recipients" bson:"recipients"`
	State        string    `json:"state" bson:"state"`
	ErrorMessage string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	Size         int64     `json:"size" bson:"size"`
	StoredAt     time.Time `json:"stored_at" bson:"stored_at"`
}

type document struct {
	Key          string                 `bson:"_id"`
	MailID       string                 `bson:"mail_id"`
	Repository   string                 `bson:"repository"`
	Sender       string                 `bson:"sender"`
	Recipients   []string               `bson:"recipients"`
	State        string                 `bson:"state"`
	ErrorMessage string                 `bson:"error_message,omitempty"`
	Attributes   map[string]interface{} `bson:"attributes,omitempty"`
	Content      []byte                 `bson:"content"`
	Size         int64                  `bson:"size"`
	RemoteAddr   string                 `bson:"remote_addr,omitempty"`
	ReceivedAt   time.Time              `bson:"received_at"`
	StoredAt     time.Time              `bson:"stored_at"`
}

func documentKey(name, id string) string {
	return name + "/" + id
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{collection: db.Collection(migrations.MailRepositoryCollection)}
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("repository", "mongodb", operation, status)
	metrics.ObserveDatabaseQueryDuration("repository", "mongodb", operation, time.Since(start))
}

func notFound(name, id string) error {
	return apperrors.ErrNotFound.WithDetail("message", fmt.Sprintf("mail %s not found in repository %s", id, name))
}

// Store replaces any earlier copy of the same mail in the repository.
func (r *mongoRepository) Store(ctx context.Context, name string, mail *models.Mail) (err error) {
	start := time.Now()
	defer func() { observe("store", start, err) }()

	doc := toDocument(name, mail)
	_, err = r.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.Key},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store mail %s in repository %s: %w", mail.ID, name, err)
	}
	return nil
}

func (r *mongoRepository) List(ctx context.Context, name string, limit int) (_ []Summary, err error) {
	start := time.Now()
	defer func() { observe("list", start, err) }()

	opts := options.Find().
		SetSort(bson.D{{Key: "stored_at", Value: -1}}).
		SetProjection(bson.M{"content": 0, "attributes": 0}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"repository": name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list repository %s: %w", name, err)
	}
	defer cursor.Close(ctx)

	summaries := []Summary{}
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode repository %s: %w", name, err)
	}
	return summaries, nil
}

func (r *mongoRepository) Get(ctx context.Context, name, id string) (_ *models.Mail, err error) {
	start := time.Now()
	defer func() { observe("get", start, err) }()

	var doc document
	err = r.collection.FindOne(ctx, bson.M{"_id": documentKey(name, id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mail %s: %w", id, err)
	}
	return fromDocument(doc)
}

func (r *mongoRepository) Delete(ctx context.Context, name, id string) (err error) {
	start := time.Now()
	defer func() { observe("delete", start, err) }()

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": documentKey(name, id)})
	if err != nil {
		return fmt.Errorf("failed to delete mail %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return notFound(name, id)
	}
	return nil
}

func (r *mongoRepository) Count(ctx context.Context, name string) (_ int64, err error) {
	start := time.Now()
	defer func() { observe("count", start, err) }()

	n, err := r.collection.CountDocuments(ctx, bson.M{"repository": name})
	if err != nil {
		return 0, fmt.Errorf("failed to count repository %s: %w", name, err)
	}
	return n, nil
}

func (r *mongoRepository) Names(ctx context.Context) (_ []string, err error) {
	start := time.Now()
	defer func() { observe("names", start, err) }()

	values, err := r.collection.Distinct(ctx, "repository", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	names := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

func toDocument(name string, mail *models.Mail) document {
	var content []byte
	if mail.Content != nil {
		content = mail.Content.Bytes()
	}

	return document{
		Key:          documentKey(name, mail.ID),
		MailID:       mail.ID,
		Repository:   name,
		Sender:       mail.SenderString(),
		Recipients:   models.AddressStrings(mail.Recipients),
		State:        mail.State,
		ErrorMessage: mail.ErrorMessage,
		Attributes:   mail.Attributes.AsMap(),
		Content:      content,
		Size:         int64(len(content)),
		RemoteAddr:   mail.RemoteAddr,
		ReceivedAt:   mail.ReceivedAt,
		StoredAt:     time.Now().UTC(),
	}
}

func fromDocument(doc document) (*models.Mail, error) {
	b := models.NewMailBuilder().
		WithID(doc.MailID).
		WithState(doc.State).
		WithRemoteAddr(doc.RemoteAddr)

	if doc.Sender != "<>" {
		sender, err := models.ParseAddress(doc.Sender)
		if err != nil {
			return nil, fmt.Errorf("stored mail %s has an invalid sender: %w", doc.MailID, err)
		}
		b = b.WithSender(sender.String())
	}

	recipients, err := models.ParseAddresses(doc.Recipients)
	if err != nil {
		return nil, fmt.Errorf("stored mail %s has an invalid recipient: %w", doc.MailID, err)
	}

	if len(doc.Content) > 0 {
		content, err := models.ParseContent(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("stored mail %s has unreadable content: %w", doc.MailID, err)
		}
		b = b.WithContent(content)
	}

	for name, value := range doc.Attributes {
		b = b.WithAttribute(name, value)
	}

	mail := b.Build()
	mail.Recipients = recipients
	mail.ErrorMessage = doc.ErrorMessage
	mail.ReceivedAt = doc.ReceivedAt
	return mail, nil
}
