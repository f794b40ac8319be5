package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"realtime-service/internal/config"
	"realtime-service/internal/metrics"
)

// ConnectNATS dials the bus, reconnecting forever once connected.
func ConnectNATS(cfg config.BridgeConfig, logger *zap.Logger, m *metrics.Metrics) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("realtime-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(asyncErrorHandler(logger, m)),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPass))
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	logger.Info("NATS connection established successfully", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// asyncErrorHandler reports errors the nats client raises outside any call.
// On a slow consumer the client has already dropped messages from the
// subscription's pending buffer; those count as dropped bridge events.
func asyncErrorHandler(logger *zap.Logger, m *metrics.Metrics) nats.ErrHandler {
	var reported atomic.Int64
	return func(_ *nats.Conn, sub *nats.Subscription, err error) {
		subject := ""
		if sub != nil {
			subject = sub.Subject
		}

		if !errors.Is(err, nats.ErrSlowConsumer) {
			logger.Error("NATS async error", zap.String("subject", subject), zap.Error(err))
			return
		}

		dropped := int64(1)
		if sub != nil {
			if total, derr := sub.Dropped(); derr == nil {
				dropped = int64(total) - reported.Swap(int64(total))
			}
		}
		if dropped > 0 {
			m.RecordBridgeDropped("unknown", int(dropped))
		}
		logger.Warn("NATS slow consumer, bridge messages dropped",
			zap.String("subject", subject),
			zap.Int64("dropped", dropped),
			zap.Error(err),
		)
	}
}

type NATSSubscriber struct {
	nc     *nats.Conn
	router *Router
	logger *zap.Logger

	sub    *nats.Subscription
	ctx    context.Context
	closed atomic.Bool
}

func NewNATSSubscriber(nc *nats.Conn, router *Router, logger *zap.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		nc:     nc,
		router: router,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start subscribes to target.>. The nats client invokes the handler from a
// single goroutine per subscription, which keeps stream order.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	sub, err := s.nc.Subscribe(NATSSubject, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", NATSSubject, err)
	}
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to confirm subscription to %s: %w", NATSSubject, err)
	}

	s.sub = sub
	s.logger.Info("Subscribed to bridge subjects", zap.String("subject", NATSSubject))
	return nil
}

func (s *NATSSubscriber) handle(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic while routing bridge message",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject))
		}
	}()
	s.router.Route(s.ctx, msg.Subject, msg.Data)
}

func (s *NATSSubscriber) Healthy() bool {
	return s.sub != nil && !s.closed.Load() && s.sub.IsValid() && s.nc.IsConnected()
}

func (s *NATSSubscriber) Close() error {
	if s.sub == nil || s.closed.Swap(true) {
		return nil
	}
	return s.sub.Drain()
}

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

func (p *NATSPublisher) Publish(_ context.Context, target Target, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return p.nc.Publish(target.Subject(), data)
}
