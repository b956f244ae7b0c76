package engine

import (
	"sort"
	"sync"
)

type MatcherFactory func(cfg MatcherConfig) (Matcher, error)

type MailetFactory func(cfg MailetConfig) (Mailet, error)

// Registry maps configured component names to factories. Lookups happen
// only while a router is being built.
type Registry struct {
	mu       sync.RWMutex
	matchers map[string]MatcherFactory
	mailets  map[string]MailetFactory
}

// NewRegistry returns a registry holding the composite matchers And, Or,
// Not and Xor.
func NewRegistry() *Registry {
	r := &Registry{
		matchers: make(map[string]MatcherFactory),
		mailets:  make(map[string]MailetFactory),
	}
	registerComposites(r)
	return r
}

func (r *Registry) RegisterMatcher(name string, factory MatcherFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers[name] = factory
}

func (r *Registry) RegisterMailet(name string, factory MailetFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailets[name] = factory
}

func (r *Registry) Matcher(name string) (MatcherFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.matchers[name]
	return f, ok
}

func (r *Registry) Mailet(name string) (MailetFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.mailets[name]
	return f, ok
}

func (r *Registry) MatcherNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.matchers)
}

func (r *Registry) MailetNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.mailets)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
