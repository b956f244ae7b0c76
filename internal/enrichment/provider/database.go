package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoDBProvider struct {
	client *mongo.Client
}

func NewMongoDBProvider(client *mongo.Client) *MongoDBProvider {
	return &MongoDBProvider{
		client: client,
	}
}

func (p *MongoDBProvider) Fetch(ctx context.Context, source Source, key string) (map[string]interface{}, error) {
	if source.Database == "" || source.Collection == "" {
		return nil, fmt.Errorf("database and collection are required for MongoDB provider")
	}

	field := source.Field
	if field == "" {
		field = "_id"
	}

	var result bson.M
	err := p.client.Database(source.Database).Collection(source.Collection).
		FindOne(ctx, bson.M{field: key}).
		Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb query failed: %w", err)
	}

	resultMap := make(map[string]interface{}, len(result))
	for k, v := range result {
		resultMap[k] = v
	}

	return resultMap, nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type PostgreSQLProvider struct {
	db *sql.DB
}

func NewPostgreSQLProvider(db *sql.DB) *PostgreSQLProvider {
	return &PostgreSQLProvider{
		db: db,
	}
}

// ValidateIdentifiers rejects table and column names that would need
// quoting.
func ValidateIdentifiers(source Source) error {
	if !identifier.MatchString(source.Collection) {
		return fmt.Errorf("invalid table name %q", source.Collection)
	}
	if !identifier.MatchString(source.Field) || len(source.Field) > 63 {
		return fmt.Errorf("invalid column name %q", source.Field)
	}
	return nil
}

func (p *PostgreSQLProvider) Fetch(ctx context.Context, source Source, key string) (map[string]interface{}, error) {
	if source.Collection == "" || source.Field == "" {
		return nil, fmt.Errorf("collection (table name) and field are required for PostgreSQL provider")
	}
	if err := ValidateIdentifiers(source); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", source.Collection, pq.QuoteIdentifier(source.Field))

	rows, err := p.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("postgresql query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("postgresql query failed: %w", err)
		}
		return nil, ErrNotFound
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("postgresql scan failed: %w", err)
	}

	result := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		if raw, ok := values[i].([]byte); ok {
			var jsonVal interface{}
			if err := json.Unmarshal(raw, &jsonVal); err == nil {
				result[col] = jsonVal
			} else {
				result[col] = string(raw)
			}
			continue
		}
		result[col] = values[i]
	}

	return result, nil
}
