// Package cache provides redis-backed read-through decorators for catalog
// lookups.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-register/internal/domain/product"
)

const productKeyPrefix = "pos:product:"

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository caches FindByCode results in redis and delegates misses
// to the wrapped repository. Redis failures degrade to a direct lookup.
// Misses for unknown codes are not cached.
type ProductRepository struct {
	next   product.Repository
	client redis.Cmdable
	ttl    time.Duration
}

// NewProductRepository wraps next with a redis cache using ttl per entry.
func NewProductRepository(next product.Repository, client redis.Cmdable, ttl time.Duration) *ProductRepository {
	return &ProductRepository{next: next, client: client, ttl: ttl}
}

// FindByCode returns the cached product or loads it from the wrapped repository.
func (r *ProductRepository) FindByCode(ctx context.Context, code string) (*product.Product, error) {
	lg := zctx.From(ctx)
	key := productKeyPrefix + code

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p product.Product
		if err := p.Decode(jx.DecodeBytes(data)); err == nil {
			return &p, nil
		}
		lg.Warn("Dropping malformed cache entry", zap.String("key", key))
		r.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		lg.Warn("Product cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, err := r.next.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	p.Encode(e)
	if err := r.client.Set(ctx, key, e.Bytes(), r.ttl).Err(); err != nil {
		lg.Warn("Product cache write failed", zap.String("key", key), zap.Error(err))
	}
	return p, nil
}

// List is not cached.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	return r.next.List(ctx)
}

// ProductWriter persists products by code.
type ProductWriter interface {
	Upsert(ctx context.Context, products []product.Product) (int64, error)
}

// InvalidatingWriter drops the cached entry of every product written through
// it, so lookups see new names and prices before the TTL runs out.
type InvalidatingWriter struct {
	next   ProductWriter
	client redis.Cmdable
}

// NewInvalidatingWriter wraps next so that each successful batch is evicted
// from the cache behind client.
func NewInvalidatingWriter(next ProductWriter, client redis.Cmdable) *InvalidatingWriter {
	return &InvalidatingWriter{next: next, client: client}
}

// Upsert writes the batch, then invalidates its codes.
func (w *InvalidatingWriter) Upsert(ctx context.Context, products []product.Product) (int64, error) {
	n, err := w.next.Upsert(ctx, products)
	if err != nil {
		return n, err
	}
	codes := make([]string, len(products))
	for i := range products {
		codes[i] = products[i].Code
	}
	if err := w.Invalidate(ctx, codes...); err != nil {
		return n, err
	}
	return n, nil
}

// Invalidate removes cached entries for the given codes.
func (w *InvalidatingWriter) Invalidate(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = productKeyPrefix + c
	}
	if err := w.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "invalidate product cache")
	}
	return nil
}
