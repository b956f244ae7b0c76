package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"mailflow/internal/constants"
)

type APIProvider struct {
	client *http.Client
}

func NewAPIProvider() *APIProvider {
	return &APIProvider{
		client: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
	}
}

func (p *APIProvider) Fetch(ctx context.Context, source Source, key string) (map[string]interface{}, error) {
	if source.URL == "" {
		return nil, fmt.Errorf("url is required for api provider")
	}

	method := source.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, expand(source.URL, url.PathEscape(key)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range source.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("api returned status: %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return result, nil
}
