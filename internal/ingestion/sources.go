// Package ingestion connects the external event sources: social posts,
// news headlines and market snapshots.
package ingestion

import (
	"context"

	"solana-hype-trader/internal/domain"
)

// SocialSource streams social posts mentioning symbols.
type SocialSource interface {
	// Name returns the source name used for control toggles and metrics.
	Name() string

	// Run sends events to out until ctx is cancelled. Transient failures are
	// retried internally; Run returns only on cancellation or a fatal error.
	Run(ctx context.Context, out chan<- *domain.SocialEvent) error
}

// NewsSource streams news headlines.
type NewsSource interface {
	Name() string
	Run(ctx context.Context, out chan<- domain.NewsItem) error
}

// MarketSource streams market snapshots.
type MarketSource interface {
	Name() string
	Run(ctx context.Context, out chan<- *domain.MarketSnapshot) error
}
