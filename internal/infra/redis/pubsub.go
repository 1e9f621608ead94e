package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "mathquest:room:"
	publishTimeout = 5 * time.Second
)

// RoomRelay carries encoded room messages between instances, one Redis
// channel per session.
type RoomRelay struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRoomRelay(client *redis.Client, logger *zap.Logger) *RoomRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomRelay{client: client, logger: logger}
}

// Publish sends payload to every instance subscribed to accessCode.
func (r *RoomRelay) Publish(accessCode string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+accessCode, payload).Err()
}

// Subscribe calls handler for each message on accessCode's channel until the
// returned cancel function is called.
func (r *RoomRelay) Subscribe(accessCode string, handler func(payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + accessCode
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	r.logger.Debug("room relay subscribed", zap.String("channel", channel))
	return cancelCtx, nil
}
