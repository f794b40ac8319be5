package service

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
	"realtime-service/internal/repository"
)

const userLockStripes = 64

// localUser is the per-process view of one connected user.
type localUser struct {
	identity   domain.Identity
	status     domain.PresenceStatus
	sockets    map[string]struct{}
	workspaces map[string]time.Time // presence-subscribed workspace -> joinedAt
}

// PresenceService owns the process-local socket bookkeeping and drives the
// shared presence store through named transitions. Store failures are
// logged and swallowed; no transition returns a store error.
//
// "Last connection" is computed from this process's sockets only. A user
// connected through two instances is reported offline when either instance
// drops its last socket.
type PresenceService struct {
	store   repository.PresenceStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	users map[string]*localUser

	// serializes transitions of one user, including their store writes
	userLocks [userLockStripes]sync.Mutex
}

func NewPresenceService(store repository.PresenceStore, logger *zap.Logger, m *metrics.Metrics) *PresenceService {
	return &PresenceService{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		users:   make(map[string]*localUser),
	}
}

func (s *PresenceService) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	l := &s.userLocks[h.Sum32()%userLockStripes]
	l.Lock()
	return l.Unlock
}

// Connect records a new socket for the user and writes the presence record
// with the updated connection count. The first socket sets status online;
// later sockets keep the status the user already chose. first reports
// whether this is the user's only socket on this process.
func (s *PresenceService) Connect(ctx context.Context, socketID string, identity domain.Identity) (first bool) {
	unlock := s.lockUser(identity.UserID)
	defer unlock()

	s.mu.Lock()
	u, ok := s.users[identity.UserID]
	if !ok {
		u = &localUser{
			status:     domain.PresenceStatusOnline,
			sockets:    make(map[string]struct{}),
			workspaces: make(map[string]time.Time),
		}
		s.users[identity.UserID] = u
	}
	u.identity = identity
	u.sockets[socketID] = struct{}{}
	first = len(u.sockets) == 1
	record := s.recordLocked(u)
	s.mu.Unlock()

	s.bestEffort("set_presence", s.store.SetPresence(ctx, identity.UserID, record),
		zap.String("user_id", identity.UserID))
	return first
}

// Disconnect removes the socket. When it was the user's last socket on this
// process the presence record and every workspace member entry the user
// subscribed to here are deleted, and the affected workspaces are returned.
func (s *PresenceService) Disconnect(ctx context.Context, socketID, userID string) domain.DisconnectResult {
	unlock := s.lockUser(userID)
	defer unlock()

	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return domain.DisconnectResult{}
	}
	if _, known := u.sockets[socketID]; !known {
		s.mu.Unlock()
		return domain.DisconnectResult{}
	}
	delete(u.sockets, socketID)

	if len(u.sockets) > 0 {
		record := s.recordLocked(u)
		s.mu.Unlock()
		s.bestEffort("set_presence", s.store.SetPresence(ctx, userID, record),
			zap.String("user_id", userID))
		return domain.DisconnectResult{IsLastConnection: false}
	}

	delete(s.users, userID)
	workspaces := sortedKeys(u.workspaces)
	s.mu.Unlock()

	s.bestEffort("delete_presence", s.store.DeletePresence(ctx, userID),
		zap.String("user_id", userID))
	for _, workspaceID := range workspaces {
		s.bestEffort("remove_workspace_member", s.store.RemoveWorkspaceMember(ctx, workspaceID, userID),
			zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
	}

	return domain.DisconnectResult{
		IsLastConnection:   true,
		PresenceWorkspaces: workspaces,
	}
}

// JoinPresenceWorkspace subscribes the user to presence tracking for a
// workspace and returns the member snapshot. joined is false when the user
// was already subscribed on this process.
func (s *PresenceService) JoinPresenceWorkspace(ctx context.Context, userID, workspaceID string) (members []domain.WorkspaceMember, joined bool) {
	unlock := s.lockUser(userID)
	defer unlock()

	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return s.snapshot(ctx, workspaceID), false
	}
	joinedAt, already := u.workspaces[workspaceID]
	if !already {
		joinedAt = s.now().UTC()
		u.workspaces[workspaceID] = joinedAt
	}
	member := s.memberLocked(userID, u, joinedAt)
	s.mu.Unlock()

	s.bestEffort("add_workspace_member", s.store.AddWorkspaceMember(ctx, workspaceID, member),
		zap.String("user_id", userID), zap.String("workspace_id", workspaceID))

	return s.snapshot(ctx, workspaceID), !already
}

// LeavePresenceWorkspace unsubscribes the user. It reports whether the user
// was subscribed.
func (s *PresenceService) LeavePresenceWorkspace(ctx context.Context, userID, workspaceID string) bool {
	unlock := s.lockUser(userID)
	defer unlock()

	s.mu.Lock()
	u, ok := s.users[userID]
	subscribed := false
	if ok {
		_, subscribed = u.workspaces[workspaceID]
		delete(u.workspaces, workspaceID)
	}
	s.mu.Unlock()

	if !subscribed {
		return false
	}
	s.bestEffort("remove_workspace_member", s.store.RemoveWorkspaceMember(ctx, workspaceID, userID),
		zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
	return true
}

// UpdateStatus validates and applies a status change, returning the
// presence-subscribed workspaces to notify. Unknown statuses return
// domain.ErrInvalidStatus and change nothing.
func (s *PresenceService) UpdateStatus(ctx context.Context, userID, status string) ([]string, error) {
	parsed, err := domain.ParsePresenceStatus(status)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	u.status = parsed
	record := s.recordLocked(u)
	workspaces := sortedKeys(u.workspaces)
	s.mu.Unlock()

	s.bestEffort("set_presence", s.store.SetPresence(ctx, userID, record),
		zap.String("user_id", userID))
	for _, workspaceID := range workspaces {
		s.bestEffort("update_workspace_member", s.store.UpdateWorkspaceMemberStatus(ctx, workspaceID, userID, parsed),
			zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
	}
	return workspaces, nil
}

// SetTyping writes the typing entry and returns it for broadcasting.
func (s *PresenceService) SetTyping(ctx context.Context, userID, workspaceID, conversationID string) domain.TypingEntry {
	entry := domain.TypingEntry{
		UserID:    userID,
		Name:      s.displayName(userID),
		StartedAt: s.now().UTC(),
	}
	s.bestEffort("set_typing", s.store.SetTyping(ctx, workspaceID, conversationID, entry),
		zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
	return entry
}

func (s *PresenceService) ClearTyping(ctx context.Context, userID, workspaceID, conversationID string) {
	s.bestEffort("clear_typing", s.store.ClearTyping(ctx, workspaceID, conversationID, userID),
		zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
}

// Heartbeat refreshes the TTL of the user's presence record and member entries.
func (s *PresenceService) Heartbeat(ctx context.Context, userID string) {
	unlock := s.lockUser(userID)
	defer unlock()
	s.refreshUser(ctx, userID)
}

// RefreshAll refreshes every locally connected user so that records of
// live users never expire. It returns the number of users refreshed.
func (s *PresenceService) RefreshAll(ctx context.Context) int {
	s.mu.RLock()
	userIDs := make([]string, 0, len(s.users))
	for userID := range s.users {
		userIDs = append(userIDs, userID)
	}
	s.mu.RUnlock()

	refreshed := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		unlock := s.lockUser(userID)
		if s.refreshUser(ctx, userID) {
			refreshed++
		}
		unlock()
	}
	return refreshed
}

func (s *PresenceService) refreshUser(ctx context.Context, userID string) bool {
	s.mu.RLock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.RUnlock()
		return false
	}
	record := s.recordLocked(u)
	members := make(map[string]domain.WorkspaceMember, len(u.workspaces))
	for workspaceID, joinedAt := range u.workspaces {
		members[workspaceID] = s.memberLocked(userID, u, joinedAt)
	}
	s.mu.RUnlock()

	s.bestEffort("set_presence", s.store.SetPresence(ctx, userID, record),
		zap.String("user_id", userID))
	for workspaceID, member := range members {
		s.bestEffort("add_workspace_member", s.store.AddWorkspaceMember(ctx, workspaceID, member),
			zap.String("user_id", userID), zap.String("workspace_id", workspaceID))
	}
	return true
}

// GetWorkspacePresence returns the shared member snapshot, or this
// process's view of it when the store cannot be read.
func (s *PresenceService) GetWorkspacePresence(ctx context.Context, workspaceID string) []domain.WorkspaceMember {
	return s.snapshot(ctx, workspaceID)
}

func (s *PresenceService) GetTyping(ctx context.Context, workspaceID, conversationID string) []domain.TypingEntry {
	entries, err := s.store.GetTyping(ctx, workspaceID, conversationID)
	if err != nil {
		s.bestEffort("get_typing", err, zap.String("workspace_id", workspaceID))
		return []domain.TypingEntry{}
	}
	return entries
}

func (s *PresenceService) IsConnected(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// ConnectionCount is the number of sockets tracked on this process.
func (s *PresenceService) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, u := range s.users {
		total += len(u.sockets)
	}
	return total
}

func (s *PresenceService) UserConnectionCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return len(u.sockets)
	}
	return 0
}

// Status returns the user's local status, offline when not connected here.
func (s *PresenceService) Status(userID string) domain.PresenceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return u.status
	}
	return domain.PresenceStatusOffline
}

func (s *PresenceService) snapshot(ctx context.Context, workspaceID string) []domain.WorkspaceMember {
	members, err := s.store.GetWorkspaceMembers(ctx, workspaceID)
	if err == nil {
		return members
	}
	s.bestEffort("get_workspace_members", err, zap.String("workspace_id", workspaceID))

	s.mu.RLock()
	local := make([]domain.WorkspaceMember, 0)
	for userID, u := range s.users {
		if joinedAt, ok := u.workspaces[workspaceID]; ok {
			local = append(local, s.memberLocked(userID, u, joinedAt))
		}
	}
	s.mu.RUnlock()

	sort.Slice(local, func(i, j int) bool {
		return local[i].JoinedAt.Before(local[j].JoinedAt)
	})
	return local
}

func (s *PresenceService) displayName(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return u.identity.DisplayName()
	}
	return userID
}

// recordLocked and memberLocked require s.mu.
func (s *PresenceService) recordLocked(u *localUser) domain.PresenceRecord {
	return domain.PresenceRecord{
		Status:      u.status,
		LastSeen:    s.now().UTC(),
		Name:        u.identity.DisplayName(),
		Email:       u.identity.Email,
		Connections: len(u.sockets),
	}
}

func (s *PresenceService) memberLocked(userID string, u *localUser, joinedAt time.Time) domain.WorkspaceMember {
	return domain.WorkspaceMember{
		UserID:   userID,
		Name:     u.identity.DisplayName(),
		Email:    u.identity.Email,
		Status:   u.status,
		JoinedAt: joinedAt,
	}
}

func (s *PresenceService) bestEffort(op string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	s.metrics.RecordPresenceStoreError(op)
	s.logger.Warn("Presence store operation failed",
		append(fields, zap.String("op", op), zap.Error(err))...)
}

func sortedKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
