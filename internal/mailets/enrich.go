package mailets

import (
	"context"
	"fmt"
	"strings"

	celgo "github.com/google/cel-go/cel"

	"mailflow/internal/engine"
	"mailflow/internal/enrichment/provider"
	"mailflow/internal/logger"
	"mailflow/pkg/cel"
	"mailflow/pkg/models"
)

// enrich looks up a record keyed by a CEL expression over the mail and
// copies selected fields of it into attributes.
type enrich struct {
	sourceType string
	source     provider.Source
	key        celgo.Program
	evaluator  *cel.Evaluator
	enricher   Enricher
	// mapping is attribute name -> record field path.
	mapping     map[string]string
	prefix      string
	failMissing bool
	logger      logger.Logger
}

func newEnrich(cfg engine.MailetConfig, deps Deps) (engine.Mailet, error) {
	if deps.Enricher == nil {
		return nil, fmt.Errorf("no enrichment sources configured")
	}

	sourceType, err := cfg.Settings.Require("source")
	if err != nil {
		return nil, err
	}
	if !deps.Enricher.Supports(sourceType) {
		return nil, fmt.Errorf("enrichment source %q is not available", sourceType)
	}

	keyExpr, err := cfg.Settings.Require("key")
	if err != nil {
		return nil, err
	}

	m := &enrich{
		sourceType: sourceType,
		source: provider.Source{
			URL:        cfg.Settings.String("url", ""),
			Method:     cfg.Settings.String("method", ""),
			Database:   cfg.Settings.String("database", ""),
			Collection: cfg.Settings.String("collection", ""),
			Field:      cfg.Settings.String("field", ""),
			KeyPattern: cfg.Settings.String("key_pattern", ""),
		},
		evaluator: deps.Evaluator,
		enricher:  deps.Enricher,
		mapping:   make(map[string]string),
		prefix:    cfg.Settings.String("prefix", ""),
		logger:    deps.Logger.Named("mailet.enrich"),
	}

	switch onMissing := cfg.Settings.String("on_missing", "skip"); onMissing {
	case "skip":
	case "error":
		m.failMissing = true
	default:
		return nil, fmt.Errorf("invalid on_missing %q (valid: skip, error)", onMissing)
	}

	if sourceType == provider.TypePostgres {
		if err := provider.ValidateIdentifiers(m.source); err != nil {
			return nil, err
		}
	}

	for _, pair := range cfg.Settings.Strings("attributes") {
		name, field, ok := strings.Cut(pair, "=")
		name, field = strings.TrimSpace(name), strings.TrimSpace(field)
		if !ok || name == "" || field == "" {
			return nil, fmt.Errorf("invalid attribute mapping %q, want name=field", pair)
		}
		m.mapping[name] = field
	}
	if len(m.mapping) == 0 && m.prefix == "" {
		return nil, fmt.Errorf("one of settings %q and %q is required", "attributes", "prefix")
	}

	if m.evaluator == nil {
		if m.evaluator, err = cel.NewEvaluator(); err != nil {
			return nil, err
		}
	}
	if m.key, err = m.evaluator.CompileExpression(keyExpr); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *enrich) Service(ctx context.Context, mail *models.Mail) error {
	value, err := m.evaluator.RunValue(ctx, m.key, mail)
	if err != nil {
		return fmt.Errorf("enrichment key: %w", err)
	}
	key := ""
	if value != nil {
		key = fmt.Sprint(value)
	}
	if key == "" {
		m.logger.DebugwCtx(ctx, "Empty enrichment key, skipping", "mail_id", mail.ID, "source", m.sourceType)
		return nil
	}

	record, found, err := m.enricher.Lookup(ctx, m.sourceType, m.source, key)
	if err != nil {
		return err
	}
	if !found {
		if m.failMissing {
			return fmt.Errorf("no %s record for %q", m.sourceType, key)
		}
		m.logger.DebugwCtx(ctx, "No enrichment record", "mail_id", mail.ID, "source", m.sourceType, "key", key)
		return nil
	}

	if m.prefix != "" {
		for field, v := range record {
			mail.Attributes.Set(m.prefix+"."+field, v)
		}
	}
	for name, path := range m.mapping {
		if v, ok := fieldValue(record, path); ok {
			mail.Attributes.Set(name, v)
		}
	}
	return nil
}

// fieldValue resolves a dotted path through nested objects.
func fieldValue(record map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = record
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return current, true
}
