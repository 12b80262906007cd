package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/session-token-authority/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = config.InstrumentationName

type AppMetrics struct {
	authLoginCounter        metric.Int64Counter
	authRefreshCounter      metric.Int64Counter
	authLogoutCounter       metric.Int64Counter
	accessTokenValidations  metric.Int64Counter
	repositoryOperations    metric.Int64Counter
	reaperPurged            metric.Int64Counter
	rateLimitDecisionCounts metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		m, err := NewAppMetrics(mp)
		if err != nil {
			return nil, err
		}
		SetAppMetrics(m)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := NewAppMetrics(mp)
	if err != nil {
		return nil, err
	}
	SetAppMetrics(m)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// NewAppMetrics registers the service instruments on the given provider.
func NewAppMetrics(mp metric.MeterProvider) (*AppMetrics, error) {
	meter := mp.Meter(meterName)
	var (
		m   AppMetrics
		err error
	)
	if m.authLoginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if m.authRefreshCounter, err = meter.Int64Counter("auth.refresh.attempts"); err != nil {
		return nil, err
	}
	if m.authLogoutCounter, err = meter.Int64Counter("auth.logout.attempts"); err != nil {
		return nil, err
	}
	if m.accessTokenValidations, err = meter.Int64Counter("auth.access_token.validations"); err != nil {
		return nil, err
	}
	if m.repositoryOperations, err = meter.Int64Counter("repository.operations"); err != nil {
		return nil, err
	}
	if m.reaperPurged, err = meter.Int64Counter("session.reaper.purged"); err != nil {
		return nil, err
	}
	if m.rateLimitDecisionCounts, err = meter.Int64Counter("http.rate_limit.decisions"); err != nil {
		return nil, err
	}
	return &m, nil
}

func SetAppMetrics(m *AppMetrics) {
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.accessTokenValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repository),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordReaperPurge(ctx context.Context, store string, purged int64) {
	m := currentMetrics()
	if m == nil || purged <= 0 {
		return
	}
	m.reaperPurged.Add(ctx, purged, metric.WithAttributes(attribute.String("store", store)))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitDecisionCounts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
	))
}
