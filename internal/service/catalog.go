// Package service contains the business logic layer.
//
// This file implements the plan catalog: a read-mostly, TTL-cached view
// of the externally published plan limits document. The catalog never
// fails past its boundary — callers always get a usable table, falling
// back to the last good snapshot and finally to the built-in defaults.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/metrics"
)

const (
	// catalogFetchTimeout bounds a single fetch of the external document.
	catalogFetchTimeout = 3 * time.Second

	// catalogRetryInterval is the minimum gap between refresh attempts
	// after a failure, so an unreachable config source is not hammered
	// on every request.
	catalogRetryInterval = 30 * time.Second

	// catalogMaxBody caps the catalog document size.
	catalogMaxBody = 1 << 20
)

// PlanCatalog serves plan limit tables with TTL-based refresh.
type PlanCatalog struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	snapshot atomic.Pointer[catalogSnapshot]

	mu          sync.Mutex // serializes refresh attempts
	lastAttempt time.Time
}

type catalogSnapshot struct {
	table     domain.PlanTable
	fetchedAt time.Time
}

// NewPlanCatalog creates a PlanCatalog. An empty url disables fetching;
// the built-in default table is served indefinitely.
func NewPlanCatalog(url string, ttl time.Duration, logger *slog.Logger) *PlanCatalog {
	return &PlanCatalog{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: catalogFetchTimeout},
		logger: logger,
	}
}

// GetTable returns the current plan table. It refreshes from the
// external resource when the cached snapshot is older than the TTL, and
// never returns an error: stale beats broken for plan configuration.
func (c *PlanCatalog) GetTable(ctx context.Context) domain.PlanTable {
	if c.url == "" {
		return domain.DefaultPlanTable
	}

	snap := c.snapshot.Load()
	if snap != nil && time.Since(snap.fetchedAt) < c.ttl {
		return snap.table
	}

	// One goroutine refreshes; the rest serve the stale snapshot.
	if c.mu.TryLock() {
		defer c.mu.Unlock()
		if time.Since(c.lastAttempt) >= catalogRetryInterval {
			c.lastAttempt = time.Now()
			if table, err := c.fetch(ctx); err != nil {
				metrics.CatalogRefreshes.WithLabelValues("error").Inc()
				c.logger.Warn("plan catalog refresh failed, serving fallback", "error", err)
			} else {
				metrics.CatalogRefreshes.WithLabelValues("success").Inc()
				c.snapshot.Store(&catalogSnapshot{table: table, fetchedAt: time.Now()})
			}
		}
	}

	if snap := c.snapshot.Load(); snap != nil {
		return snap.table
	}
	return domain.DefaultPlanTable
}

// LookupLimit returns the limit value for a tier and key, falling back
// to the free tier for keys missing on the tier's snapshot. Always
// defined, never errors.
func (c *PlanCatalog) LookupLimit(ctx context.Context, tier domain.PlanTier, key string) domain.LimitValue {
	return c.GetTable(ctx).Lookup(tier, key)
}

// fetch downloads and decodes the external catalog document. Tiers
// present in the defaults but absent from the document keep their
// default limits, so a partial publish cannot strip a tier.
func (c *PlanCatalog) fetch(ctx context.Context) (domain.PlanTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, catalogMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read catalog body: %w", err)
	}

	var table domain.PlanTable
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("decode catalog: empty document")
	}

	for tier, limits := range domain.DefaultPlanTable {
		if _, ok := table[tier]; !ok {
			table[tier] = limits
		}
	}

	return table, nil
}
