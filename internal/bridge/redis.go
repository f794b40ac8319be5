package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber feeds one transport's messages into the router. Start returns
// once the subscription is confirmed; messages are routed on a single
// goroutine so order within the stream is preserved.
type Subscriber interface {
	Start(ctx context.Context) error
	Healthy() bool
	Close() error
}

// Publisher puts an envelope on a target channel.
type Publisher interface {
	Publish(ctx context.Context, target Target, env Envelope) error
}

type RedisSubscriber struct {
	rdb    *redis.Client
	router *Router
	logger *zap.Logger

	pubsub  *redis.PubSub
	running atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func NewRedisSubscriber(rdb *redis.Client, router *Router, logger *zap.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		rdb:    rdb,
		router: router,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub := s.rdb.PSubscribe(ctx, RedisPattern)
	// wait for the subscription confirmation so startup fails loudly
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", RedisPattern, err)
	}

	s.pubsub = pubsub
	s.running.Store(true)
	s.logger.Info("Subscribed to bridge channels", zap.String("pattern", RedisPattern))

	go s.consume(ctx, pubsub.Channel())
	return nil
}

func (s *RedisSubscriber) consume(ctx context.Context, ch <-chan *redis.Message) {
	defer close(s.done)
	defer s.running.Store(false)

	for msg := range ch {
		s.handle(ctx, msg)
	}
	s.logger.Info("Bridge subscription closed", zap.String("pattern", RedisPattern))
}

func (s *RedisSubscriber) handle(ctx context.Context, msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic while routing bridge message",
				zap.Any("panic", r),
				zap.String("channel", msg.Channel))
		}
	}()
	s.router.Route(ctx, msg.Channel, []byte(msg.Payload))
}

func (s *RedisSubscriber) Healthy() bool {
	return s.running.Load()
}

// Close ends the subscription and waits for the consumer to drain.
func (s *RedisSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		if s.pubsub == nil {
			return
		}
		err = s.pubsub.Close()
		<-s.done
	})
	return err
}

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, target Target, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, target.Channel(), data).Err()
}
