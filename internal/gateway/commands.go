package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
)

var (
	errNotMember    = errors.New("not a workspace member")
	errNotConnected = errors.New("not connected")
)

type workspacePresence struct {
	WorkspaceID string                   `json:"workspaceId"`
	Members     []domain.WorkspaceMember `json:"members"`
}

type typingChange struct {
	WorkspaceID    string    `json:"workspaceId"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Name           string    `json:"name,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
}

type memberChange struct {
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// handleFrame decodes and runs one client command. Malformed or invalid
// commands are ignored; they only answer a requested ack with ok=false.
func (g *Gateway) handleFrame(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.metrics.RecordClientCommand("unknown")
		g.logger.Debug("Ignoring malformed frame", zap.String("socket_id", c.id), zap.Error(err))
		return
	}

	command := frame.Event
	if _, ok := knownCommands[command]; !ok {
		command = "unknown"
	}
	g.metrics.RecordClientCommand(command)

	result, err := g.dispatch(c, frame)
	if err != nil {
		g.logger.Debug("Client command rejected",
			zap.String("socket_id", c.id),
			zap.String("event", frame.Event),
			zap.Error(err),
		)
		if frame.AckID != "" {
			g.hub.sendTo(c, EventAck, marshalData(ackResult{OK: false, Error: err.Error()}), frame.AckID)
		}
		return
	}
	if frame.AckID != "" {
		g.hub.sendTo(c, EventAck, marshalData(ackResult{OK: true, Data: result}), frame.AckID)
	}
}

func (g *Gateway) dispatch(c *Client, frame Frame) (any, error) {
	switch frame.Event {
	case CmdJoinQuery:
		return g.joinQuery(c, frame.Data)
	case CmdLeaveQuery:
		return g.leaveQuery(c, frame.Data)
	case CmdJoinWorkspace:
		return g.joinWorkspace(c, frame.Data)
	case CmdLeaveWorkspace:
		return g.leaveWorkspace(c, frame.Data)
	case CmdPresenceJoin:
		return g.presenceJoin(c, frame.Data)
	case CmdPresenceLeave:
		return g.presenceLeave(c, frame.Data)
	case CmdPresenceStatus:
		return g.presenceStatus(c, frame.Data)
	case CmdTypingStart:
		return g.typing(c, frame.Data, true)
	case CmdTypingStop:
		return g.typing(c, frame.Data, false)
	case CmdPresenceGet:
		return g.presenceGet(c, frame.Data)
	case CmdPing:
		return g.ping(c)
	default:
		return nil, errors.New("unknown command")
	}
}

func (g *Gateway) decodeID(data json.RawMessage, key string) (string, error) {
	id, err := decodeField(data, key)
	if err != nil {
		return "", err
	}
	if err := g.validate.Struct(idPayload{ID: id}); err != nil {
		return "", errInvalidPayload
	}
	return id, nil
}

func (g *Gateway) joinQuery(c *Client, data json.RawMessage) (any, error) {
	queryID, err := g.decodeID(data, "queryId")
	if err != nil {
		return nil, err
	}
	g.hub.join(c, roomQueryPrefix+queryID)
	return map[string]any{"room": roomQueryPrefix + queryID}, nil
}

func (g *Gateway) leaveQuery(c *Client, data json.RawMessage) (any, error) {
	queryID, err := g.decodeID(data, "queryId")
	if err != nil {
		return nil, err
	}
	g.hub.leave(c, roomQueryPrefix+queryID)
	return nil, nil
}

// canAccess reports whether the client may see a workspace: it is already in
// the workspace room, or the directory confirms membership.
func (g *Gateway) canAccess(c *Client, workspaceID string) bool {
	if g.hub.inRoom(c, roomWorkspacePrefix+workspaceID) {
		return true
	}
	ctx, cancel := g.storeContext()
	defer cancel()
	return g.resolver.IsWorkspaceMember(ctx, c.identity, workspaceID, c.token)
}

func (g *Gateway) joinWorkspace(c *Client, data json.RawMessage) (any, error) {
	workspaceID, err := g.decodeID(data, "workspaceId")
	if err != nil {
		return nil, err
	}
	if !g.canAccess(c, workspaceID) {
		g.logger.Info("Workspace join refused",
			zap.String("user_id", c.UserID()),
			zap.String("workspace_id", workspaceID),
		)
		return nil, errNotMember
	}
	g.hub.join(c, roomWorkspacePrefix+workspaceID)
	return map[string]any{"room": roomWorkspacePrefix + workspaceID}, nil
}

func (g *Gateway) leaveWorkspace(c *Client, data json.RawMessage) (any, error) {
	workspaceID, err := g.decodeID(data, "workspaceId")
	if err != nil {
		return nil, err
	}
	g.hub.leave(c, roomWorkspacePrefix+workspaceID)
	return nil, nil
}

func (g *Gateway) presenceJoin(c *Client, data json.RawMessage) (any, error) {
	workspaceID, err := g.decodeID(data, "workspaceId")
	if err != nil {
		return nil, err
	}
	if !g.canAccess(c, workspaceID) {
		return nil, errNotMember
	}
	g.hub.join(c, roomWorkspacePrefix+workspaceID)

	ctx, cancel := g.storeContext()
	defer cancel()
	members, joined := g.presence.JoinPresenceWorkspace(ctx, c.UserID(), workspaceID)
	if members == nil {
		members = []domain.WorkspaceMember{}
	}

	snapshot := workspacePresence{WorkspaceID: workspaceID, Members: members}
	g.hub.sendTo(c, EventPresenceUpdate, marshalData(snapshot), "")

	if joined {
		g.hub.EmitToRoomExcept(roomWorkspacePrefix+workspaceID, c, EventMemberJoined, marshalData(memberChange{
			WorkspaceID: workspaceID,
			UserID:      c.UserID(),
			Name:        c.identity.DisplayName(),
			Status:      string(g.presence.Status(c.UserID())),
			Timestamp:   time.Now().UTC(),
		}))
	}
	return snapshot, nil
}

func (g *Gateway) presenceLeave(c *Client, data json.RawMessage) (any, error) {
	workspaceID, err := g.decodeID(data, "workspaceId")
	if err != nil {
		return nil, err
	}

	ctx, cancel := g.storeContext()
	defer cancel()
	if g.presence.LeavePresenceWorkspace(ctx, c.UserID(), workspaceID) {
		g.hub.EmitToRoomExcept(roomWorkspacePrefix+workspaceID, c, EventMemberLeft, marshalData(memberChange{
			WorkspaceID: workspaceID,
			UserID:      c.UserID(),
			Timestamp:   time.Now().UTC(),
		}))
	}
	return nil, nil
}

func (g *Gateway) presenceStatus(c *Client, data json.RawMessage) (any, error) {
	status, err := decodeField(data, "status")
	if err != nil {
		return nil, err
	}
	if err := g.validate.Struct(statusPayload{Status: status}); err != nil {
		return nil, errInvalidPayload
	}

	ctx, cancel := g.storeContext()
	defer cancel()
	workspaces, err := g.presence.UpdateStatus(ctx, c.UserID(), status)
	if err != nil {
		return nil, err
	}

	current := string(g.presence.Status(c.UserID()))
	now := time.Now().UTC()
	for _, workspaceID := range workspaces {
		g.hub.EmitToRoomExcept(roomWorkspacePrefix+workspaceID, c, EventStatusChanged, marshalData(memberChange{
			WorkspaceID: workspaceID,
			UserID:      c.UserID(),
			Status:      current,
			Timestamp:   now,
		}))
	}
	return map[string]any{"status": current}, nil
}

func (g *Gateway) typing(c *Client, data json.RawMessage, started bool) (any, error) {
	var payload typingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errInvalidPayload
	}
	if err := g.validate.Struct(payload); err != nil {
		return nil, errInvalidPayload
	}
	room := roomWorkspacePrefix + payload.WorkspaceID
	if !g.hub.inRoom(c, room) {
		return nil, errNotMember
	}

	ctx, cancel := g.storeContext()
	defer cancel()

	change := typingChange{
		WorkspaceID:    payload.WorkspaceID,
		ConversationID: payload.ConversationID,
		UserID:         c.UserID(),
	}
	event := EventTypingStop
	if started {
		entry := g.presence.SetTyping(ctx, c.UserID(), payload.WorkspaceID, payload.ConversationID)
		change.Name = entry.Name
		change.StartedAt = entry.StartedAt
		event = EventTypingStart
	} else {
		g.presence.ClearTyping(ctx, c.UserID(), payload.WorkspaceID, payload.ConversationID)
	}

	g.hub.EmitToRoomExcept(room, c, event, marshalData(change))
	return nil, nil
}

func (g *Gateway) presenceGet(c *Client, data json.RawMessage) (any, error) {
	workspaceID, err := g.decodeID(data, "workspaceId")
	if err != nil {
		return nil, err
	}
	if !g.canAccess(c, workspaceID) {
		return nil, errNotMember
	}

	ctx, cancel := g.storeContext()
	defer cancel()
	snapshot := workspacePresence{
		WorkspaceID: workspaceID,
		Members:     g.presence.GetWorkspacePresence(ctx, workspaceID),
	}
	if snapshot.Members == nil {
		snapshot.Members = []domain.WorkspaceMember{}
	}
	g.hub.sendTo(c, EventPresenceUpdate, marshalData(snapshot), "")
	return snapshot, nil
}

func (g *Gateway) ping(c *Client) (any, error) {
	if !g.presence.IsConnected(c.UserID()) {
		return nil, errNotConnected
	}
	ctx, cancel := g.storeContext()
	defer cancel()
	g.presence.Heartbeat(ctx, c.UserID())

	pong := map[string]any{"timestamp": time.Now().UTC().UnixMilli()}
	g.hub.sendTo(c, EventPong, marshalData(pong), "")
	return pong, nil
}
