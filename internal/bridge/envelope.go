package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownTarget     = errors.New("unknown target")
)

type TargetKind string

const (
	TargetUser      TargetKind = "user"
	TargetWorkspace TargetKind = "workspace"
	TargetQuery     TargetKind = "query"
	TargetBroadcast TargetKind = "broadcast"
)

const (
	// RedisPattern and NATSSubject cover the whole target channel family.
	RedisPattern = "target:*"
	NATSSubject  = "target.>"

	channelPrefix = "target"
)

// Target is the addressing decoded from a channel name. ID is empty for
// TargetBroadcast.
type Target struct {
	Kind TargetKind
	ID   string
}

// ParseTarget accepts both target:kind:id (Redis) and target.kind.id (NATS).
func ParseTarget(channel string) (Target, error) {
	if len(channel) <= len(channelPrefix) || !strings.HasPrefix(channel, channelPrefix) {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, channel)
	}
	sep := channel[len(channelPrefix)]
	if sep != ':' && sep != '.' {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, channel)
	}

	rest := channel[len(channelPrefix)+1:]
	kind, id, _ := strings.Cut(rest, string(sep))

	switch TargetKind(kind) {
	case TargetBroadcast:
		if id != "" {
			return Target{}, fmt.Errorf("%w: broadcast takes no id: %q", ErrUnknownTarget, channel)
		}
		return Target{Kind: TargetBroadcast}, nil
	case TargetUser, TargetWorkspace, TargetQuery:
		if id == "" {
			return Target{}, fmt.Errorf("%w: missing id: %q", ErrUnknownTarget, channel)
		}
		return Target{Kind: TargetKind(kind), ID: id}, nil
	default:
		return Target{}, fmt.Errorf("%w: kind %q", ErrUnknownTarget, kind)
	}
}

// Room is the gateway room the target addresses; empty for broadcast.
func (t Target) Room() string {
	if t.Kind == TargetBroadcast {
		return ""
	}
	return string(t.Kind) + ":" + t.ID
}

// Channel is the Redis channel name.
func (t Target) Channel() string {
	if t.Kind == TargetBroadcast {
		return channelPrefix + ":" + string(TargetBroadcast)
	}
	return channelPrefix + ":" + string(t.Kind) + ":" + t.ID
}

// Subject is the NATS subject.
func (t Target) Subject() string {
	if t.Kind == TargetBroadcast {
		return channelPrefix + "." + string(TargetBroadcast)
	}
	return channelPrefix + "." + string(t.Kind) + "." + t.ID
}

// Envelope is the payload published on a target channel. Data is opaque to
// this service but must be a JSON object when present.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(env.Event) == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}

	data := bytes.TrimSpace(env.Data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		env.Data = nil
	case data[0] != '{':
		return Envelope{}, fmt.Errorf("%w: data must be an object", ErrMalformedEnvelope)
	default:
		env.Data = data
	}
	return env, nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
