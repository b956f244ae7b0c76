package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mailflow/pkg/models"
)

// Mailet acts on the recipients a rule's matcher selected. It may change
// recipients, content, state and attributes of the mail it is given. A
// returned error (or a panic) is an unexpected failure handled by the
// rule's error policy.
type Mailet interface {
	Service(ctx context.Context, mail *models.Mail) error
}

type MailetFunc func(ctx context.Context, mail *models.Mail) error

func (f MailetFunc) Service(ctx context.Context, mail *models.Mail) error {
	return f(ctx, mail)
}

// ProcessorTargets is implemented by mailets that route mail to named
// processors, so the loader can verify the targets exist.
type ProcessorTargets interface {
	Targets() []string
}

type MailetConfig struct {
	Name     string
	Settings Settings
}

// Settings holds the opaque per-rule configuration of a mailet. Keys are
// case-insensitive as the configuration layer lower-cases them.
type Settings map[string]interface{}

func (s Settings) lookup(key string) (interface{}, bool) {
	if s == nil {
		return nil, false
	}
	if v, ok := s[key]; ok {
		return v, true
	}
	v, ok := s[strings.ToLower(key)]
	return v, ok
}

func (s Settings) Has(key string) bool {
	_, ok := s.lookup(key)
	return ok
}

func (s Settings) String(key, def string) string {
	v, ok := s.lookup(key)
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

func (s Settings) Require(key string) (string, error) {
	v := s.String(key, "")
	if v == "" {
		return "", fmt.Errorf("setting %q is required", key)
	}
	return v, nil
}

// Bool returns def when the key is absent. A value that is not a boolean
// is a configuration error.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s.lookup(key)
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def, fmt.Errorf("setting %q: %q is not a boolean", key, b)
		}
		return parsed, nil
	default:
		return def, fmt.Errorf("setting %q: %v is not a boolean", key, v)
	}
}

// Int returns def when the key is absent. Non-integral values are
// rejected.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s.lookup(key)
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return def, fmt.Errorf("setting %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def, fmt.Errorf("setting %q: %q is not an integer", key, n)
		}
		return parsed, nil
	default:
		return def, fmt.Errorf("setting %q: %v is not an integer", key, v)
	}
}

// Strings accepts either a YAML list or a comma separated string.
func (s Settings) Strings(key string) []string {
	v, ok := s.lookup(key)
	if !ok || v == nil {
		return nil
	}

	var raw []string
	switch list := v.(type) {
	case []string:
		raw = list
	case []interface{}:
		for _, item := range list {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = strings.Split(fmt.Sprint(v), ",")
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
