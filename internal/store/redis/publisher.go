// Package redis mirrors broadcast hub events onto Redis PubSub so
// out-of-process consumers (dashboards, recorders) can follow the stream
// without holding a WebSocket to the engine.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"aurafx/internal/broadcast"
	"aurafx/internal/model"
)

// Config configures the mirror.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Publisher republishes hub events to pub:<type> and, when the payload
// carries a symbol, pub:<type>:<symbol>.
type Publisher struct {
	client *goredis.Client
}

// New connects and pings the Redis server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Run consumes the subscription until ctx is cancelled or the hub closes
// the queue.
func (p *Publisher) Run(ctx context.Context, sub *broadcast.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev model.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[redis] marshal %s event: %v", ev.Type, err)
		return
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, "pub:"+ev.Type, raw)
	if symbol := extractSymbol(ev.Data); symbol != "" {
		pipe.Publish(ctx, "pub:"+ev.Type+":"+symbol, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[redis] publish %s: %v", ev.Type, err)
	}
}

// extractSymbol probes the payload for a "symbol" field without knowing
// its concrete type.
func extractSymbol(data interface{}) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	var probe struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Symbol
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
