package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"canvas/internal/domain"
)

// DefaultRelayChannel is the pub/sub channel used when none is configured.
const DefaultRelayChannel = "canvas:updates"

// RelayMessage is a room update travelling between server instances.
type RelayMessage struct {
	Instance string          `json:"instance"`
	CanvasID string          `json:"canvasId"`
	Version  int64           `json:"version"`
	Doc      domain.Document `json:"doc"`
}

// Relay carries room updates to other server instances.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
}

// RedisRelay fans room updates out over Redis pub/sub. Messages published
// by the same instance are ignored on receipt.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	instance string
	logger   *log.Logger
}

type RedisRelayOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Logger   *log.Logger
}

func NewRedisRelay(opts RedisRelayOptions) *RedisRelay {
	if opts.Channel == "" {
		opts.Channel = DefaultRelayChannel
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &RedisRelay{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		channel:  opts.Channel,
		instance: uuid.NewString(),
		logger:   opts.Logger.WithPrefix("relay"),
	}
}

// Ping checks that Redis is reachable.
func (r *RedisRelay) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	msg.Instance = r.instance
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and applies foreign updates to hub until
// ctx ends.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("subscribed", "channel", r.channel, "instance", r.instance)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(hub, []byte(m.Payload))
		}
	}
}

func (r *RedisRelay) handle(hub *Hub, payload []byte) {
	var msg RelayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("malformed relay message", "err", err)
		return
	}
	if msg.Instance == r.instance || msg.CanvasID == "" {
		return
	}
	if err := hub.ApplyRelayed(msg); err != nil {
		r.logger.Error("apply relayed update failed", "canvas", msg.CanvasID, "err", err)
		return
	}
	r.logger.Debug("applied relayed update", "canvas", msg.CanvasID, "from", msg.Instance)
}

func (r *RedisRelay) Close() error { return r.client.Close() }
