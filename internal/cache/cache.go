package cache

import (
	"context"
	"time"

	"dukanpos/terminal/internal/domain"
)

// SnapshotCache shares the refreshed catalog snapshot between terminals on
// the same LAN. Misses are never errors; callers fall through to the ledger.
type SnapshotCache interface {
	GetProducts(ctx context.Context) ([]domain.Product, bool)
	SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration)
	Close() error
}

type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) GetProducts(ctx context.Context) ([]domain.Product, bool) { return nil, false }

func (Noop) SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration) {}

func (Noop) Close() error { return nil }
