// Package events fans analysis status changes out to subscribers
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/skillscout/internal/models"
)

// subscriberBuffer is how many events a slow subscriber may lag behind
const subscriberBuffer = 16

// Bus publishes status events per repository
type Bus interface {
	Publish(ctx context.Context, event models.StatusEvent) error
	// Subscribe returns a channel of events for one repository and a function
	// that ends the subscription and closes the channel.
	Subscribe(ctx context.Context, repositoryID string) (<-chan models.StatusEvent, func(), error)
}

// MemoryBus is an in-process Bus. Events are dropped for subscribers whose
// buffer is full.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan models.StatusEvent
	nextID int
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan models.StatusEvent)}
}

// Publish delivers event to the repository's current subscribers
func (b *MemoryBus) Publish(ctx context.Context, event models.StatusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[event.RepositoryID] {
		select {
		case ch <- event:
		default:
			slog.Warn("dropping status event for slow subscriber",
				"repository_id", event.RepositoryID,
				"subscriber", id,
			)
		}
	}
	return nil
}

// Subscribe registers a subscriber for repositoryID
func (b *MemoryBus) Subscribe(ctx context.Context, repositoryID string) (<-chan models.StatusEvent, func(), error) {
	ch := make(chan models.StatusEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[repositoryID] == nil {
		b.subs[repositoryID] = make(map[int]chan models.StatusEvent)
	}
	b.subs[repositoryID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[repositoryID], id)
			if len(b.subs[repositoryID]) == 0 {
				delete(b.subs, repositoryID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// RedisBus is a Bus on Redis pub/sub, shared by every process using the
// same Redis
type RedisBus struct {
	client *redis.Client
	prefix string
}

// NewRedisBus creates a bus publishing on channels under prefix
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) channel(repositoryID string) string {
	return b.prefix + repositoryID
}

// Publish sends event as JSON on the repository's channel
func (b *RedisBus) Publish(ctx context.Context, event models.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(event.RepositoryID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe listens on the repository's channel until cancel is called or
// ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, repositoryID string) (<-chan models.StatusEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(repositoryID))
	// wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subCtx, stop := context.WithCancel(ctx)
	out := make(chan models.StatusEvent, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)

		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event models.StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("discarding malformed status event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			pubsub.Close()
			<-done
		})
	}
	return out, cancel, nil
}

// HealthCheck verifies Redis connectivity
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
