package cache

import (
	"context"
	"time"

	"github.com/yanasoup/pos-sub000/internal/domain"
)

// ProductCache caches product-by-code lookups so barcode scans don't hit the
// remote backend on every keystroke.
type ProductCache interface {
	Get(ctx context.Context, code string) (*domain.Product, bool, error)
	Set(ctx context.Context, code string, product *domain.Product, ttl time.Duration) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}
