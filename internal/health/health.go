package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-token-authority/internal/database"
)

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

func NewChecker(name string, fn func(ctx context.Context) error) Checker {
	return checkerFunc{name: name, fn: fn}
}

func DatabaseChecker(db *gorm.DB) Checker {
	return NewChecker("database", func(ctx context.Context) error {
		return database.Ping(ctx, db)
	})
}

func RedisChecker(client redis.UniversalClient) Checker {
	return NewChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Report struct {
	Healthy   bool          `json:"healthy"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ProbeRunner runs readiness checks in parallel and caches the report for
// cacheTTL so frequent probes do not hammer the backends.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker
	now      func() time.Time

	mu     sync.Mutex
	cached *Report
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers, now: time.Now}
}

func (p *ProbeRunner) Ready(ctx context.Context) Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil && p.cacheTTL > 0 && p.now().Sub(p.cached.CheckedAt) < p.cacheTTL {
		return *p.cached
	}

	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(checkCtx)
			res := CheckResult{Name: c.Name(), Healthy: err == nil, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, Checks: results, CheckedAt: p.now()}
	for _, r := range results {
		if !r.Healthy {
			report.Healthy = false
		}
	}
	p.cached = &report
	return report
}
