package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Inbound commands.
const (
	CmdJoinQuery      = "join:query"
	CmdLeaveQuery     = "leave:query"
	CmdJoinWorkspace  = "join:workspace"
	CmdLeaveWorkspace = "leave:workspace"
	CmdPresenceJoin   = "presence:join-workspace"
	CmdPresenceLeave  = "presence:leave-workspace"
	CmdPresenceStatus = "presence:status"
	CmdTypingStart    = "presence:typing-start"
	CmdTypingStop     = "presence:typing-stop"
	CmdPresenceGet    = "presence:get"
	CmdPing           = "ping"
)

// Outbound events.
const (
	EventConnected       = "connected"
	EventAck             = "ack"
	EventPong            = "pong"
	EventPresenceUpdate  = "presence:update"
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
	EventMemberJoined    = "presence:joined-workspace"
	EventMemberLeft      = "presence:left-workspace"
	EventStatusChanged   = "presence:status-changed"
	EventTypingStart     = "presence:typing-start"
	EventTypingStop      = "presence:typing-stop"
)

const (
	roomUserPrefix      = "user:"
	roomWorkspacePrefix = "workspace:"
	roomQueryPrefix     = "query:"
)

var knownCommands = map[string]struct{}{
	CmdJoinQuery: {}, CmdLeaveQuery: {}, CmdJoinWorkspace: {}, CmdLeaveWorkspace: {},
	CmdPresenceJoin: {}, CmdPresenceLeave: {}, CmdPresenceStatus: {},
	CmdTypingStart: {}, CmdTypingStop: {}, CmdPresenceGet: {}, CmdPing: {},
}

var errInvalidPayload = errors.New("invalid payload")

// Frame is the wire shape in both directions. On a client command a set
// AckID asks for an "ack" reply carrying the command's result.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

type idPayload struct {
	ID string `validate:"required,max=128,excludesall=*?"`
}

type typingPayload struct {
	WorkspaceID    string `json:"workspaceId" validate:"required,max=128,excludesall=*?"`
	ConversationID string `json:"conversationId" validate:"required,max=128,excludesall=*?"`
}

type statusPayload struct {
	Status string `json:"status" validate:"required,max=16"`
}

type ackResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func encodeFrame(event string, data json.RawMessage, ackID string) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data, AckID: ackID})
}

func marshalData(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// decodeField accepts either a bare JSON string or an object carrying the
// value under key. Clients send both forms.
func decodeField(data json.RawMessage, key string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", errInvalidPayload
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", errInvalidPayload
		}
		return strings.TrimSpace(s), nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", errInvalidPayload
		}
		raw, ok := obj[key]
		if !ok {
			return "", errInvalidPayload
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errInvalidPayload
		}
		return strings.TrimSpace(s), nil
	default:
		return "", errInvalidPayload
	}
}

// tagQueued merges delivery metadata into a queued event's object payload.
func tagQueued(data json.RawMessage, deliveryID string, index, size int) json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	fields["wasQueued"] = json.RawMessage("true")
	fields["deliveryId"] = marshalData(deliveryID)
	fields["batchIndex"] = marshalData(index)
	fields["batchSize"] = marshalData(size)
	return marshalData(fields)
}
