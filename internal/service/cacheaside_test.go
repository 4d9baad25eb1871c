package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct{ v string }

func TestReadThrough(t *testing.T) {
	ctx := context.Background()

	t.Run("hit skips store", func(t *testing.T) {
		loaded := false
		got, err := readThrough(ctx, "k",
			func(context.Context) (*item, error) { return &item{"cached"}, nil },
			func(context.Context) (*item, error) { loaded = true; return nil, nil },
			func(context.Context, *item) error { return nil },
		)
		require.NoError(t, err)
		assert.Equal(t, "cached", got.v)
		assert.False(t, loaded)
	})

	t.Run("miss loads and fills", func(t *testing.T) {
		var filled *item
		got, err := readThrough(ctx, "k",
			func(context.Context) (*item, error) { return nil, nil },
			func(context.Context) (*item, error) { return &item{"durable"}, nil },
			func(_ context.Context, v *item) error { filled = v; return nil },
		)
		require.NoError(t, err)
		assert.Equal(t, "durable", got.v)
		assert.Same(t, got, filled)
	})

	t.Run("cache errors are swallowed", func(t *testing.T) {
		got, err := readThrough(ctx, "k",
			func(context.Context) (*item, error) { return nil, errors.New("read failed") },
			func(context.Context) (*item, error) { return &item{"durable"}, nil },
			func(context.Context, *item) error { return errors.New("fill failed") },
		)
		require.NoError(t, err)
		assert.Equal(t, "durable", got.v)
	})

	t.Run("absent is not filled", func(t *testing.T) {
		filled := false
		got, err := readThrough(ctx, "k",
			func(context.Context) (*item, error) { return nil, nil },
			func(context.Context) (*item, error) { return nil, nil },
			func(context.Context, *item) error { filled = true; return nil },
		)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, filled)
	})
}

func TestWriteThrough(t *testing.T) {
	ctx := context.Background()
	noEvict := func(context.Context) error { return nil }

	t.Run("durable first then cache", func(t *testing.T) {
		var order []string
		got, err := writeThrough(ctx, "k",
			func(context.Context) (*item, error) { order = append(order, "durable"); return &item{"x"}, nil },
			func(context.Context, *item) error { order = append(order, "cache"); return nil },
			func(context.Context) error { order = append(order, "evict"); return nil },
		)
		require.NoError(t, err)
		assert.Equal(t, "x", got.v)
		assert.Equal(t, []string{"durable", "cache"}, order)
	})

	t.Run("durable failure aborts before cache", func(t *testing.T) {
		cached := false
		_, err := writeThrough(ctx, "k",
			func(context.Context) (*item, error) { return nil, errors.New("db down") },
			func(context.Context, *item) error { cached = true; return nil },
			noEvict,
		)
		assert.Error(t, err)
		assert.False(t, cached)
	})

	t.Run("cache failure evicts and is not surfaced", func(t *testing.T) {
		evicted := false
		got, err := writeThrough(ctx, "k",
			func(context.Context) (*item, error) { return &item{"x"}, nil },
			func(context.Context, *item) error { return errors.New("redis down") },
			func(context.Context) error { evicted = true; return errors.New("still down") },
		)
		require.NoError(t, err)
		assert.Equal(t, "x", got.v)
		assert.True(t, evicted)
	})
}
