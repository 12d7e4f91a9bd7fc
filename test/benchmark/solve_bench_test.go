package benchmark

import (
	"context"
	"fmt"
	"math/cmplx"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/poly"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/cache"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/service"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memBackend) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	return nil
}

func (m *memBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	return 0, nil
}

// spiralRoots places degree roots on a slowly widening spiral so no two
// coincide.
func spiralRoots(degree int) []complex128 {
	roots := make([]complex128, degree)
	for k := range roots {
		roots[k] = cmplx.Rect(1+0.01*float64(k), 2.4*float64(k))
	}
	return roots
}

func requestFor(p poly.Polynomial) rootfinder.SolveRequest {
	return rootfinder.SolveRequest{Coefficients: rootfinder.FromComplex(p)}
}

// unityRequest asks for the roots of x^degree - 1, which stay well
// conditioned at high degree.
func unityRequest(degree int) rootfinder.SolveRequest {
	coeffs := make([]complex128, degree+1)
	coeffs[0], coeffs[degree] = -1, 1
	return requestFor(poly.New(coeffs...))
}

// BenchmarkServiceSolve measures a full service solve, with and without a
// warm result cache.
func BenchmarkServiceSolve(b *testing.B) {
	cfg, err := config.Load("")
	if err != nil {
		b.Fatal(err)
	}
	for _, degree := range []int{8, 64, 256} {
		req := unityRequest(degree)

		b.Run(fmt.Sprintf("degree_%d/uncached", degree), func(b *testing.B) {
			svc := service.New(cfg.Solver, service.Deps{Metrics: metrics.NewWithRegistry(prometheus.NewRegistry())})
			defer svc.Close()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := svc.Solve(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})

		b.Run(fmt.Sprintf("degree_%d/cached", degree), func(b *testing.B) {
			svc := service.New(cfg.Solver, service.Deps{
				Cache:   cache.New(&memBackend{data: map[string]string{}}, time.Minute),
				Metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
			})
			defer svc.Close()
			if _, err := svc.Solve(context.Background(), req); err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := svc.Solve(context.Background(), req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCacheKey measures request hashing for varying degrees.
func BenchmarkCacheKey(b *testing.B) {
	for _, degree := range []int{8, 256, 2048} {
		req := requestFor(poly.FromRoots(spiralRoots(degree)...))
		b.Run(fmt.Sprintf("degree_%d", degree), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = cache.Key(req)
			}
		})
	}
}

// BenchmarkHorner measures polynomial and derivative evaluation, the inner
// loop of every Aberth correction.
func BenchmarkHorner(b *testing.B) {
	for _, degree := range []int{16, 256, 2048} {
		p := poly.FromRoots(spiralRoots(degree)...)
		dp := p.Derivative()
		x := complex(0.3, 0.7)
		b.Run(fmt.Sprintf("degree_%d", degree), func(b *testing.B) {
			b.ReportAllocs()
			var sink complex128
			for i := 0; i < b.N; i++ {
				sink += p.Eval(x) / dp.Eval(x)
			}
			_ = sink
		})
	}
}
