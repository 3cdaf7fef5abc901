package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"dukanpos/terminal/internal/domain"
)

const productsKey = "terminal:snapshot:products"

type Redis struct {
	client *redis.Client
}

// NewRedis pings the server once so a misconfigured address is caught at
// startup instead of on the first sale.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{client: client}, nil
}

func (r *Redis) GetProducts(ctx context.Context) ([]domain.Product, bool) {
	raw, err := r.client.Get(ctx, productsKey).Bytes()
	if err != nil {
		return nil, false
	}
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false
	}
	return products, true
}

func (r *Redis) SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration) {
	raw, err := json.Marshal(products)
	if err != nil {
		return
	}
	// Best effort: a failed cache write only costs the next reader a trip
	// to the ledger.
	r.client.Set(ctx, productsKey, raw, ttl)
}

func (r *Redis) Close() error { return r.client.Close() }
