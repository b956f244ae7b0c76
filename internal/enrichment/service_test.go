package enrichment

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/enrichment/provider"
	"mailflow/pkg/metrics"
)

type fakeProvider struct {
	records map[string]map[string]interface{}
	err     error
	keys    []string
}

func (f *fakeProvider) Fetch(_ context.Context, _ provider.Source, key string) (map[string]interface{}, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.records[key]; ok {
		return r, nil
	}
	return nil, provider.ErrNotFound
}

func TestLookup(t *testing.T) {
	api := &fakeProvider{records: map[string]map[string]interface{}{
		"remote.org": {"tier": "gold"},
	}}
	svc := NewService(nil, WithProvider(provider.TypeAPI, api))
	ctx := context.Background()

	assert.True(t, svc.Supports(provider.TypeAPI))
	assert.False(t, svc.Supports(provider.TypeMongoDB))

	before := testutil.ToFloat64(metrics.EnrichmentLookupsTotal.WithLabelValues(provider.TypeAPI, "found"))
	data, found, err := svc.Lookup(ctx, provider.TypeAPI, provider.Source{URL: "http://x/{key}"}, "remote.org")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "gold", data["tier"])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EnrichmentLookupsTotal.WithLabelValues(provider.TypeAPI, "found")))

	data, found, err = svc.Lookup(ctx, provider.TypeAPI, provider.Source{}, "unknown.org")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)

	assert.Equal(t, []string{"remote.org", "unknown.org"}, api.keys)
}

func TestLookupErrors(t *testing.T) {
	broken := &fakeProvider{err: errors.New("timeout")}
	svc := NewService(nil, WithProvider(provider.TypeCache, broken))

	_, found, err := svc.Lookup(context.Background(), provider.TypeCache, provider.Source{}, "k")
	assert.False(t, found)
	assert.ErrorContains(t, err, "timeout")

	_, _, err = svc.Lookup(context.Background(), provider.TypePostgres, provider.Source{}, "k")
	assert.ErrorContains(t, err, "unknown source type")
}

func TestCacheKeyDependsOnSource(t *testing.T) {
	svc := NewService(nil)

	a := svc.cacheKey(provider.TypeAPI, provider.Source{URL: "http://a/{key}"}, "k")
	b := svc.cacheKey(provider.TypeAPI, provider.Source{URL: "http://b/{key}"}, "k")
	again := svc.cacheKey(provider.TypeAPI, provider.Source{URL: "http://a/{key}"}, "k")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
	assert.Regexp(t, `^enrich:api:[0-9a-f]{16}:k$`, a)
}
