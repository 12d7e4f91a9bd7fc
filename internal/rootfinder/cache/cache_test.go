package cache

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
)

type memBackend struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func request(values ...float64) rootfinder.SolveRequest {
	req := rootfinder.SolveRequest{Tolerance: 1e-10, MaxIterations: 500}
	for _, v := range values {
		req.Coefficients = append(req.Coefficients, rootfinder.Complex(complex(v, 0)))
	}
	return req
}

func converged() *rootfinder.SolveResponse {
	return &rootfinder.SolveResponse{
		Outcome:    rootfinder.OutcomeConverged,
		Degree:     2,
		Roots:      []rootfinder.Complex{rootfinder.Complex(1i), rootfinder.Complex(-1i)},
		Iterations: 6,
	}
}

func TestKey_Normalization(t *testing.T) {
	base := Key(request(1, 0, 1))
	assert.True(t, strings.HasPrefix(base, keyPrefix))
	assert.Equal(t, base, Key(request(1, 0, 1, 0, 0)), "zero leading coefficients")

	negZero := request(1, 0, 1)
	negZero.Coefficients[1] = rootfinder.Complex(complex(math.Copysign(0, -1), 0))
	assert.Equal(t, base, Key(negZero))

	assert.NotEqual(t, base, Key(request(1, 0, 2)))
	looser := request(1, 0, 1)
	looser.Tolerance = 1e-6
	assert.NotEqual(t, base, Key(looser))
	capped := request(1, 0, 1)
	capped.MaxIterations = 50
	assert.NotEqual(t, base, Key(capped))
}

func TestResultCache_GetOrCompute(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)
	ctx := context.Background()
	req := request(1, 0, 1)

	var calls int
	compute := func() (*rootfinder.SolveResponse, error) {
		calls++
		return converged(), nil
	}

	resp, hit, err := c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 6, resp.Iterations)

	resp, hit, err = c.GetOrCompute(ctx, req, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []rootfinder.Complex{rootfinder.Complex(1i), rootfinder.Complex(-1i)}, resp.Roots)
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Minute, backend.ttls[Key(req)])

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestResultCache_FailuresAreNotStored(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)
	req := request(1, 1)

	notConverged := &rootfinder.SolveResponse{Outcome: rootfinder.OutcomeNotConverged}
	resp, _, err := c.GetOrCompute(context.Background(), req, func() (*rootfinder.SolveResponse, error) {
		return notConverged, errors.New("did not converge")
	})
	require.Error(t, err)
	assert.Same(t, notConverged, resp, "the partial response is passed through")
	assert.Empty(t, backend.data)

	c.Set(context.Background(), req, &rootfinder.SolveResponse{Outcome: rootfinder.OutcomeDegenerate})
	assert.Empty(t, backend.data)
}

func TestResultCache_BackendErrorIsMiss(t *testing.T) {
	backend := newMemBackend()
	backend.getErr = errors.New("connection refused")
	c := New(backend, time.Minute)

	_, ok := c.get(context.Background(), Key(request(1, 1)))
	assert.False(t, ok)
	_, misses := c.Stats()
	assert.Equal(t, int64(1), misses)
}

func TestResultCache_ConcurrentMissesShareOneSolve(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	req := request(-6, 11, -6, 1)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*rootfinder.SolveResponse, error) {
		calls.Add(1)
		<-release
		return converged(), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), req, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestResultCache_Invalidate(t *testing.T) {
	backend := newMemBackend()
	backend.data["other:key"] = "x"
	c := New(backend, time.Minute)
	c.Set(context.Background(), request(1, 1), converged())
	c.Set(context.Background(), request(2, 1), converged())

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, backend.data, 1)
}
