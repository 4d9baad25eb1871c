package redis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// PubSub fans gateway events out to every instance subscribed to a channel
type PubSub struct {
	client *Client
}

// NewPubSub creates a new pub/sub bus
func NewPubSub(client *Client) *PubSub {
	return &PubSub{client: client}
}

// Publish sends payload to channel
func (p *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers every message on channel to handler until ctx is done.
// It returns once the subscription is confirmed by the server.
func (p *PubSub) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	ps := p.client.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Str("channel", channel).Msg("bus handler panicked")
						}
					}()
					handler([]byte(msg.Payload))
				}()
			}
		}
	}()

	return nil
}
