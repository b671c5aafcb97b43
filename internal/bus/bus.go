package bus

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/codec"
)

type Message struct {
	Channel string
	Payload string
}

// RedisBus is fire-and-forget Redis pub/sub. Nothing is persisted, so a
// message published with no subscriber is gone.
type RedisBus struct {
	client redis.UniversalClient
}

func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client}
}

// Publish returns how many subscribers received the payload.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload string) (int64, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return 0, errors.New("bus publish channel is required")
	}
	receivers, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "publish %s", channel)
	}
	return receivers, nil
}

func (b *RedisBus) PublishJSON(ctx context.Context, channel string, value any) (int64, error) {
	encoded, err := codec.MarshalString(value)
	if err != nil {
		return 0, errors.Wrap(err, "encode bus payload")
	}
	return b.Publish(ctx, channel, encoded)
}

// Subscribe returns once the server has confirmed the subscription, so a
// publish issued afterwards is guaranteed to be seen.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("bus subscribe needs at least one channel")
	}
	pubsub := b.client.Subscribe(ctx, channels...)
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, errors.Wrapf(err, "subscribe %s", strings.Join(channels, ","))
		}
	}
	return &Subscription{pubsub: pubsub}, nil
}

type Subscription struct {
	pubsub *redis.PubSub
}

// Receive waits up to timeout for one message. ok is false when nothing
// arrived in time; that is not an error.
func (s *Subscription) Receive(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	received, err := s.pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Message{}, false, nil
		}
		if ctx.Err() != nil {
			return Message{}, false, ctx.Err()
		}
		return Message{}, false, errors.Wrap(err, "receive")
	}
	switch msg := received.(type) {
	case *redis.Message:
		return Message{Channel: msg.Channel, Payload: msg.Payload}, true, nil
	default:
		return Message{}, false, nil
	}
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
