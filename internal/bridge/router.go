package bridge

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"realtime-service/internal/metrics"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeQueued    Outcome = "queued"
	OutcomeBroadcast Outcome = "broadcast"
	OutcomeDropped   Outcome = "dropped"
)

// Gateway is the connection-side surface the router emits into. Emit
// methods return the number of connections the event was handed to.
type Gateway interface {
	EmitToRoom(room, event string, data json.RawMessage) int
	EmitToAll(event string, data json.RawMessage) int
}

// OfflineQueue receives user events nobody on this process could take.
type OfflineQueue interface {
	Enqueue(userID, event string, data json.RawMessage)
}

// Router decodes bridge messages and routes them to rooms or the offline
// queue. It never returns an error: bad messages are logged and dropped.
type Router struct {
	gateway Gateway
	queue   OfflineQueue
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRouter(gateway Gateway, queue OfflineQueue, logger *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		gateway: gateway,
		queue:   queue,
		logger:  logger,
		metrics: m,
	}
}

func (r *Router) Route(ctx context.Context, channel string, payload []byte) Outcome {
	target, err := ParseTarget(channel)
	if err != nil {
		r.drop(channel, "unknown", err)
		return OutcomeDropped
	}

	env, err := DecodeEnvelope(payload)
	if err != nil {
		r.drop(channel, string(target.Kind), err)
		return OutcomeDropped
	}

	var outcome Outcome
	switch target.Kind {
	case TargetUser:
		if r.gateway.EmitToRoom(target.Room(), env.Event, env.Data) > 0 {
			outcome = OutcomeDelivered
		} else {
			r.queue.Enqueue(target.ID, env.Event, env.Data)
			outcome = OutcomeQueued
		}
	case TargetWorkspace, TargetQuery:
		r.gateway.EmitToRoom(target.Room(), env.Event, env.Data)
		outcome = OutcomeBroadcast
	case TargetBroadcast:
		r.gateway.EmitToAll(env.Event, env.Data)
		outcome = OutcomeBroadcast
	}

	r.metrics.RecordBridgeEvent(string(target.Kind), string(outcome))
	r.logger.Debug("Bridge event routed",
		zap.String("channel", channel),
		zap.String("event", env.Event),
		zap.String("outcome", string(outcome)),
	)
	return outcome
}

func (r *Router) drop(channel, kind string, err error) {
	r.metrics.RecordBridgeEvent(kind, string(OutcomeDropped))
	r.logger.Warn("Dropping bridge message",
		zap.String("channel", channel),
		zap.Error(err),
	)
}
