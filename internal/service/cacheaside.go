package service

import (
	"context"

	"github.com/rs/zerolog/log"
)

// readThrough serves from the cache and falls back to the durable store on a
// miss or cache failure, repopulating the cache with what the store returned.
// Cache failures are logged and never returned.
func readThrough[T any](
	ctx context.Context,
	key string,
	cached func(context.Context) (*T, error),
	load func(context.Context) (*T, error),
	fill func(context.Context, *T) error,
) (*T, error) {
	v, err := cached(ctx)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed, using durable store")
	} else if v != nil {
		return v, nil
	}

	v, err = load(ctx)
	if err != nil || v == nil {
		return v, err
	}

	if err := fill(ctx, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache fill failed")
	}
	return v, nil
}

// writeThrough persists to the durable store first and only then updates the
// cache. A durable failure returns before the cache is touched. When the
// update fails the entry is evicted so reads fall back to the durable store.
func writeThrough[T any](
	ctx context.Context,
	key string,
	persist func(context.Context) (*T, error),
	update func(context.Context, *T) error,
	evict func(context.Context) error,
) (*T, error) {
	v, err := persist(ctx)
	if err != nil {
		return nil, err
	}

	if err := update(ctx, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed, evicting")
		if err := evict(ctx); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache evict failed")
		}
	}
	return v, nil
}
