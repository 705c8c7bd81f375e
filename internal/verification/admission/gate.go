// Package admission implements the rate admission gate consulted before
// automatic provider-session creation.
package admission

import (
	"context"
	"fmt"
	"log/slog"
)

// CountSource supplies the recent-verification count the gate compares
// against its daily ceiling.
type CountSource interface {
	RecentVerificationCount(ctx context.Context) (int, error)
}

// Gate is a simple threshold check. It fails open: when the count query
// errors, verification availability wins over strict cap enforcement.
type Gate struct {
	counts  CountSource
	ceiling int
	logger  *slog.Logger
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New builds a gate with the given daily ceiling. A ceiling <= 0 disables the
// gate entirely.
func New(counts CountSource, ceiling int, opts ...Option) (*Gate, error) {
	if counts == nil {
		return nil, fmt.Errorf("count source is required")
	}

	g := &Gate{
		counts:  counts,
		ceiling: ceiling,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Exceeded reports whether the daily ceiling has been reached.
func (g *Gate) Exceeded(ctx context.Context) bool {
	if g.ceiling <= 0 {
		return false
	}

	count, err := g.counts.RecentVerificationCount(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "recent verification count unavailable, admitting",
			"error", err.Error(),
		)
		return false
	}
	return count >= g.ceiling
}
