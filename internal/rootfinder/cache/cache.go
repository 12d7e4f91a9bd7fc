// Package cache memoizes converged solves in Redis. Keys are derived from
// the normalized coefficients and the effective tolerance and iteration cap,
// and concurrent identical misses share one solve through singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	pkgredis "github.com/Adithya-Monish-Kumar-K/polyroots/pkg/redis"
)

const keyPrefix = "roots:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ResultCache stores converged SolveResponses.
type ResultCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *ResultCache {
	return &ResultCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "roots-cache"),
	}
}

// get returns the cached response under key. Backend errors count as misses.
func (c *ResultCache) get(ctx context.Context, key string) (*rootfinder.SolveResponse, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var resp rootfinder.SolveResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &resp, true
}

// Set stores resp under req's key. Only converged responses are stored.
func (c *ResultCache) Set(ctx context.Context, req rootfinder.SolveRequest, resp *rootfinder.SolveResponse) {
	if resp == nil || resp.Outcome != rootfinder.OutcomeConverged {
		return
	}
	key := Key(req)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for req or runs compute once per
// key across concurrent callers. The bool reports a cache hit. Callers
// sharing a computed response must not mutate it.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	req rootfinder.SolveRequest,
	compute func() (*rootfinder.SolveResponse, error),
) (*rootfinder.SolveResponse, bool, error) {
	key := Key(req)
	if resp, ok := c.get(ctx, key); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		resp, err := compute()
		if err != nil {
			return resp, err
		}
		c.Set(ctx, req, resp)
		return resp, nil
	})
	resp, _ := val.(*rootfinder.SolveResponse)
	return resp, false, err
}

// Invalidate removes every cached solve and returns the number of keys.
func (c *ResultCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating roots cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key hashes the normalized request. Zero leading coefficients are dropped
// and negative zero is folded into zero, so requests describing the same
// polynomial share a key.
func Key(req rootfinder.SolveRequest) string {
	coeffs := req.Polynomial().Trim()
	var b strings.Builder
	for i, c := range coeffs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatFloat(real(c)))
		b.WriteByte(':')
		b.WriteString(formatFloat(imag(c)))
	}
	fmt.Fprintf(&b, "|tol=%s|iter=%d", formatFloat(req.Tolerance), req.MaxIterations)
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func formatFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
