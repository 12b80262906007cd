package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestProbeRunnerAggregatesResults(t *testing.T) {
	runner := NewProbeRunner(time.Second, 0,
		NewChecker("ok", func(context.Context) error { return nil }),
		NewChecker("broken", func(context.Context) error { return errors.New("down") }),
	)
	report := runner.Ready(context.Background())
	if report.Healthy {
		t.Fatal("expected unhealthy report")
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if !report.Checks[0].Healthy || report.Checks[1].Healthy || report.Checks[1].Error != "down" {
		t.Fatalf("unexpected checks: %+v", report.Checks)
	}
}

func TestProbeRunnerCachesReport(t *testing.T) {
	var calls atomic.Int32
	runner := NewProbeRunner(time.Second, time.Minute, NewChecker("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	runner.Ready(context.Background())
	runner.Ready(context.Background())
	if calls.Load() != 1 {
		t.Fatalf("expected cached report, checker ran %d times", calls.Load())
	}
}

func TestProbeRunnerTimesOutSlowChecks(t *testing.T) {
	runner := NewProbeRunner(20*time.Millisecond, 0, NewChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	report := runner.Ready(context.Background())
	if report.Healthy {
		t.Fatal("expected slow check to fail")
	}
}

func TestRedisChecker(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := RedisChecker(client)
	if err := checker.Check(context.Background()); err != nil {
		t.Fatalf("expected healthy redis: %v", err)
	}
	server.Close()
	if err := checker.Check(context.Background()); err == nil {
		t.Fatal("expected error after redis shutdown")
	}
}
