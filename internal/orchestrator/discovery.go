// Package orchestrator discovers live workers through the registry and
// dispatches workflow executions to them, singly or fanned out under a
// concurrency bound.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"weave/internal/logging"
	"weave/internal/storage"
)

// DefaultDiscoveryCacheTTL bounds how stale a cached query result may be.
const DefaultDiscoveryCacheTTL = 5 * time.Second

const discoveryCacheSize = 128

// Discovery queries the registry HTTP surface. Metadata-filtered results are
// cached briefly so fan-out dispatch stays off the registry hot path.
type Discovery struct {
	registryURL string
	http        *http.Client
	cache       *expirable.LRU[string, []*storage.Deployment]
	logger      logging.Logger
}

// NewDiscovery builds a registry query client.
func NewDiscovery(registryURL string, requestTimeout, cacheTTL time.Duration, logger logging.Logger) (*Discovery, error) {
	if registryURL == "" {
		return nil, fmt.Errorf("registry url required")
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultDiscoveryCacheTTL
	}
	return &Discovery{
		registryURL: strings.TrimRight(registryURL, "/"),
		http:        &http.Client{Timeout: requestTimeout},
		cache:       expirable.NewLRU[string, []*storage.Deployment](discoveryCacheSize, nil, cacheTTL),
		logger:      logging.OrNop(logger),
	}, nil
}

type listResponse struct {
	Deployments []*storage.Deployment `json:"deployments"`
}

// List returns every alive deployment the registry knows.
func (d *Discovery) List(ctx context.Context) ([]*storage.Deployment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.registryURL+"/deployments", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned %d: %s", resp.StatusCode, body)
	}
	var decoded listResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return decoded.Deployments, nil
}

// Get returns one deployment lease.
func (d *Discovery) Get(ctx context.Context, id string) (*storage.Deployment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.registryURL+"/deployments/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, storage.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned %d: %s", resp.StatusCode, body)
	}
	var lease storage.Deployment
	if err := json.NewDecoder(resp.Body).Decode(&lease); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return &lease, nil
}

// QueryByMetadata returns alive deployments matching every filter, serving
// repeated queries from the cache within its TTL.
func (d *Discovery) QueryByMetadata(ctx context.Context, filters map[string]any) ([]*storage.Deployment, error) {
	key := cacheKey(filters)
	if cached, ok := d.cache.Get(key); ok {
		return cached, nil
	}

	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*storage.Deployment
	for _, lease := range all {
		if storage.MatchMetadata(lease.Metadata, filters) {
			out = append(out, lease)
		}
	}
	d.cache.Add(key, out)
	return out, nil
}

// cacheKey renders filters deterministically regardless of map order.
func cacheKey(filters map[string]any) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v, _ := json.Marshal(filters[k])
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}
	return b.String()
}
