// Package redis publishes placement events over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/config"
	"github.com/limiquantix/allocator/internal/scheduler"
)

var _ scheduler.EventPublisher = (*Publisher)(nil)

// EventVMAllocated is the event type published for every committed placement.
const EventVMAllocated = "vm.allocated"

// Event represents a real-time event.
type Event struct {
	Type       string          `json:"type"`
	ResourceID string          `json:"resource_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Placement decodes the event payload of a vm.allocated event.
func (e Event) Placement() (*scheduler.Placement, error) {
	if e.Type != EventVMAllocated {
		return nil, fmt.Errorf("unexpected event type %q", e.Type)
	}
	var p scheduler.Placement
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal placement: %w", err)
	}
	return &p, nil
}

// Publisher sends placement events to a Redis channel.
type Publisher struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

// NewPublisher connects to Redis and returns a publisher for cfg.Channel.
func NewPublisher(cfg config.RedisConfig, logger *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Address()),
		zap.String("channel", cfg.Channel),
	)

	return newPublisher(client, cfg.Channel, logger), nil
}

func newPublisher(client redis.UniversalClient, channel string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "placement-publisher")),
		now:     time.Now,
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishPlacement publishes a vm.allocated event carrying the placement.
func (p *Publisher) PublishPlacement(ctx context.Context, placement *scheduler.Placement) error {
	if placement == nil {
		return errors.New("placement is required")
	}
	event, err := p.placementEvent(placement)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish placement for VM %s: %w", placement.VMID, err)
	}
	p.logger.Debug("Published placement event",
		zap.String("vm_id", placement.VMID),
		zap.String("host_id", placement.HostID),
	)
	return nil
}

func (p *Publisher) placementEvent(placement *scheduler.Placement) (Event, error) {
	data, err := json.Marshal(placement)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal placement: %w", err)
	}
	return Event{
		Type:       EventVMAllocated,
		ResourceID: placement.VMID,
		Data:       data,
		Timestamp:  p.now().UTC(),
	}, nil
}

// Subscribe streams events published on the placement channel until ctx is
// done. Payloads that do not decode are logged and skipped.
func (p *Publisher) Subscribe(ctx context.Context) <-chan Event {
	pubsub := p.client.Subscribe(ctx, p.channel)
	events := make(chan Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Payload)
				if err != nil {
					p.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	return event, nil
}
