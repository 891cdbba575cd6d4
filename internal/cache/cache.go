// Package cache holds the report cache used to keep dashboard summary
// queries off the hot path. A Redis implementation backs production; the
// no-op implementation keeps the server usable without Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"stokkita/backend/internal/domain"
)

// ErrMiss reports a cache key with no live entry.
var ErrMiss = errors.New("cache: miss")

type ReportCache interface {
	GetSummary(ctx context.Context, key string) (*domain.SalesSummary, error)
	SetSummary(ctx context.Context, key string, summary *domain.SalesSummary, ttl time.Duration) error
	// InvalidateSummaries drops every cached summary. Called after writes
	// that change what the reports would show.
	InvalidateSummaries(ctx context.Context) error
}

// Noop satisfies ReportCache without caching anything.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) GetSummary(context.Context, string) (*domain.SalesSummary, error) {
	return nil, ErrMiss
}

func (*Noop) SetSummary(context.Context, string, *domain.SalesSummary, time.Duration) error {
	return nil
}

func (*Noop) InvalidateSummaries(context.Context) error { return nil }
