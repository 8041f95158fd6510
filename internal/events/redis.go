package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// BufferSize bounds the async queue. Default: 1024
	BufferSize int
	// PublishTimeout bounds a single PUBLISH. Default: 2s
	PublishTimeout time.Duration
}

// RedisPublisher publishes events as JSON on Redis pub/sub channels named
// after the event subject. Async events are drained by one worker.
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration

	queue   chan Event
	pending sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisPublisherWithClient(client, cfg), nil
}

// NewRedisPublisherWithClient wraps an existing client. The publisher owns
// the client and closes it on Close.
func NewRedisPublisherWithClient(client *redis.Client, cfg RedisConfig) *RedisPublisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	p := &RedisPublisher{
		client:  client,
		timeout: cfg.PublishTimeout,
		queue:   make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go p.worker()
	return p
}

// Publish sends the event synchronously.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type(), err)
	}
	if err := p.client.Publish(ctx, event.Subject(), data).Err(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("redis publish %s: %w", event.Subject(), err)
	}
	return nil
}

// PublishAsync queues the event; it is dropped when the queue is full.
func (p *RedisPublisher) PublishAsync(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	p.pending.Add(1)
	select {
	case p.queue <- event:
	default:
		p.pending.Done()
		p.dropped.Add(1)
		slog.Warn("[Events] Redis queue full, event dropped",
			"type", event.Type(),
			"call_id", event.CallID(),
		)
	}
}

func (p *RedisPublisher) worker() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.Publish(ctx, event); err != nil {
			slog.Warn("[Events] Async publish failed", "error", err)
		}
		cancel()
		p.pending.Done()
	}
}

// Flush waits until queued events have been published or ctx expires.
func (p *RedisPublisher) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes, stops the worker and closes the client.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		slog.Warn("[Events] Redis flush incomplete on close", "error", err)
	}
	<-p.done
	return p.client.Close()
}

// Stats returns the number of dropped and failed events.
func (p *RedisPublisher) Stats() (dropped, failed int64) {
	return p.dropped.Load(), p.failed.Load()
}
