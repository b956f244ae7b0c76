// Package provider fetches lookup records from external sources by key.
package provider

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound reports that the source holds no record for the key.
var ErrNotFound = errors.New("record not found")

type DataProvider interface {
	Fetch(ctx context.Context, source Source, key string) (map[string]interface{}, error)
}

// Source locates a record. Which fields matter depends on the provider:
// URL and Method for "api", KeyPattern for "cache", Database, Collection
// and Field for "mongodb", Collection (the table) and Field for "postgres".
type Source struct {
	URL     string
	Method  string
	Headers map[string]string

	Database   string
	Collection string
	Field      string

	KeyPattern string
}

const (
	TypeAPI      = "api"
	TypeCache    = "cache"
	TypeMongoDB  = "mongodb"
	TypePostgres = "postgres"
)

// expand substitutes the lookup key into a URL or key template.
func expand(template, key string) string {
	template = strings.ReplaceAll(template, "{key}", key)
	return strings.ReplaceAll(template, "{value}", key)
}
