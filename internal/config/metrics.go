package config

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter, tracer and log-bridge scope for the service.
const InstrumentationName = "session-token-authority"

// ErrInvalid wraps every Validate failure returned by Load.
var ErrInvalid = errors.New("validate config")

// EnvError reports an environment variable that could not be parsed.
type EnvError struct {
	Key string
	Err error
}

func (e *EnvError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *EnvError) Unwrap() error { return e.Err }

// recordLoadEvent counts one Load outcome. The meter is looked up per call so
// a provider installed after startup still receives the event.
func recordLoadEvent(ctx context.Context, profile string, loadErr error) {
	counter, err := otel.Meter(InstrumentationName).Int64Counter(
		"config.load.events",
		metric.WithDescription("Configuration load outcomes by profile and failure class."),
	)
	if err != nil {
		return
	}
	outcome := "success"
	if loadErr != nil {
		outcome = "failure"
	}
	attrs := []attribute.KeyValue{
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyConfigLoadError(loadErr)),
	}
	var envErr *EnvError
	if errors.As(loadErr, &envErr) {
		attrs = append(attrs, attribute.String("env_key", envErr.Key))
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	var envErr *EnvError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalid):
		return "validation"
	case errors.As(err, &envErr):
		return "parse"
	default:
		return "load"
	}
}
