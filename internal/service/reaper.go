package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-token-authority/internal/observability"
	"github.com/sandeepkv93/session-token-authority/internal/repository"
)

type ReapResult struct {
	RefreshTokens int64
	Revocations   int64
}

// Reaper purges expired refresh tokens and revocation entries.
type Reaper struct {
	refresh     repository.RefreshTokenRepository
	revocations repository.RevocationRepository
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewReaper(refresh repository.RefreshTokenRepository, revocations repository.RevocationRepository, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{refresh: refresh, revocations: revocations, interval: interval, logger: logger, now: time.Now}
}

func (r *Reaper) RunOnce(ctx context.Context) (ReapResult, error) {
	cutoff := r.now().UTC()
	var (
		res  ReapResult
		errs []error
	)
	n, err := r.refresh.DeleteExpired(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	res.RefreshTokens = n
	observability.RecordReaperPurge(ctx, "refresh_token", n)

	n, err = r.revocations.DeleteExpired(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	res.Revocations = n
	observability.RecordReaperPurge(ctx, "revocation", n)

	return res, errors.Join(errs...)
}

// Run purges on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "session reaper pass failed", "error", err)
				continue
			}
			if res.RefreshTokens > 0 || res.Revocations > 0 {
				r.logger.InfoContext(ctx, "session reaper purged expired rows",
					"refresh_tokens", res.RefreshTokens,
					"revocations", res.Revocations,
				)
			}
		}
	}
}
