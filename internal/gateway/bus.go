package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Bus mirrors room emissions between gateway instances
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers every payload on channel to handler until ctx is done
	Subscribe(ctx context.Context, channel string, handler func([]byte)) error
}

// MemoryBus is an in-process Bus. Delivery is synchronous and ordered.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]func([]byte))}
}

// Publish delivers payload to every current subscriber of channel
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(channel, h, payload)
	}
	return nil
}

// Subscribe registers handler until ctx is done
func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]func([]byte))
	}
	b.subs[channel][id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], id)
		b.mu.Unlock()
	}()
	return nil
}

func deliver(channel string, handler func([]byte), payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("channel", channel).Msg("bus handler panicked")
		}
	}()
	handler(payload)
}
